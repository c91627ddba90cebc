package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/xpcore/internal/daemon"
)

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileRepair, "repair-xp", false, "Overwrite cached total XP with the ledger sum on drift")
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileRepair bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Grant badges that live awards missed",
	Long: `Re-run badge evaluation for every user from ledger counts and grant
anything they qualify for. Safe to repeat: a second run grants nothing.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	if reconcileRepair {
		cfg.Reconcile.RepairXP = true
	}

	d, err := daemon.NewWithConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	report, err := d.Reconciler.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Scanned %d users in %s: %d badges granted, %d failed\n",
		report.UsersScanned, report.Duration.Round(time.Millisecond), report.BadgesGranted, report.UsersFailed)
	for _, u := range report.FailedUsers {
		fmt.Printf("  failed: %s\n", u)
	}
	if len(report.SkippedBadges) > 0 {
		fmt.Printf("Skipped %d inactive or unresolvable badges: %s\n",
			len(report.SkippedBadges), strings.Join(report.SkippedBadges, ", "))
	}
	if len(report.Drift) == 0 {
		return nil
	}

	fmt.Printf("\nXP drift (%d)\n", len(report.Drift))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  USER\tCACHED\tLEDGER\tREPAIRED")
	for _, dr := range report.Drift {
		fmt.Fprintf(w, "  %s\t%d\t%d\t%t\n", dr.UserID, dr.Cached, dr.Ledger, dr.Repaired)
	}
	return w.Flush()
}
