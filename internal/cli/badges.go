package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/xpcore/internal/domain"
)

func init() {
	badgesListCmd.Flags().BoolVarP(&badgesAll, "all", "a", false, "Include inactive badges")
	badgesCmd.AddCommand(badgesListCmd, badgesImportCmd, badgesSeedCmd, badgesMigrateCmd)
	rootCmd.AddCommand(badgesCmd)
}

var badgesAll bool

var badgesCmd = &cobra.Command{
	Use:     "badges",
	Aliases: []string{"badge"},
	Short:   "Manage the badge catalog",
}

var badgesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List catalog badges",
	Args:    cobra.NoArgs,
	RunE:    runBadgesList,
}

func runBadgesList(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	var badges []domain.BadgeDefinition
	if badgesAll {
		badges, err = d.Store.Badges(cmd.Context())
	} else {
		badges, err = d.Store.ActiveBadges(cmd.Context())
	}
	if err != nil {
		return err
	}

	if len(badges) == 0 {
		fmt.Println("No badges defined. Run 'xpcore badges seed' to install the starter catalog.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tTITLE\tRARITY\tREQUIREMENT\tACTIVE")
	for _, b := range badges {
		req := "legacy"
		if b.RequirementType.Known() {
			req = fmt.Sprintf("%s >= %d", b.RequirementType, b.RequirementValue)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", b.Slug, b.Title, b.Rarity, req, b.IsActive)
	}
	return w.Flush()
}

var badgesImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Upsert badges from a .toml or .json file",
	Long: `Upsert badges by slug. TOML files use [[badge]] tables; any other
extension is read as a JSON array of badge definitions.`,
	Args: cobra.ExactArgs(1),
	RunE: runBadgesImport,
}

func runBadgesImport(cmd *cobra.Command, args []string) error {
	badges, err := readBadges(args[0])
	if err != nil {
		return err
	}

	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	n, err := d.Catalog.Import(cmd.Context(), badges)
	if err != nil {
		return fmt.Errorf("imported %d of %d: %w", n, len(badges), err)
	}
	fmt.Printf("Imported %d badges\n", n)
	return nil
}

var badgesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install or refresh the starter catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		n, err := d.Catalog.Seed(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d badges\n", n)
		return nil
	},
}

var badgesMigrateCmd = &cobra.Command{
	Use:   "migrate-legacy",
	Short: "Convert slug-encoded badges to typed requirements",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		migrated, unresolved, err := d.Catalog.MigrateLegacy(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Migrated %d badges\n", migrated)
		for _, s := range unresolved {
			fmt.Printf("  unresolved: %s\n", s)
		}
		return nil
	},
}
