// Package main is the single-binary entrypoint for xpcore.
package main

import "github.com/tutu-network/xpcore/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
