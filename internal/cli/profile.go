package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	profileCmd.Flags().IntVarP(&profileEvents, "events", "n", 10, "Recent ledger rows to show (0 hides them)")
	rootCmd.AddCommand(profileCmd)
}

var profileEvents int

var profileCmd = &cobra.Command{
	Use:   "profile USER",
	Short: "Show a user's level, streak, badges, and recent XP",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfile,
}

func runProfile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID := args[0]

	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	table, err := d.Coordinator.LevelTable(ctx)
	if err != nil {
		return err
	}
	view, err := d.Coordinator.Profile(ctx, userID)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", userID)
	fmt.Printf("  %s\n", levelLine(view, table.MaxLevel()))
	fmt.Printf("  Total XP: %d\n", view.TotalXP)
	fmt.Printf("  Streak:   %d days (longest %d)\n", view.CurrentStreak, view.LongestStreak)
	fmt.Printf("  Lessons %d | Courses %d | Quizzes %d | Certificates %d\n",
		view.LessonsCompleted, view.CoursesCompleted, view.QuizzesPassed, view.CertificatesEarned)

	badges, err := d.Store.UserBadges(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("\nBadges (%d)\n", len(badges))
	if len(badges) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  TITLE\tRARITY\tUNLOCKED\tFEATURED")
		for _, b := range badges {
			featured := ""
			if b.IsFeatured {
				featured = "*"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
				b.Badge.Title,
				b.Badge.Rarity,
				b.UnlockedAt.Format("2006-01-02 15:04"),
				featured,
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if profileEvents <= 0 {
		return nil
	}
	events, err := d.Store.XPEvents(ctx, userID, profileEvents)
	if err != nil {
		return err
	}
	fmt.Printf("\nRecent XP\n")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  WHEN\tTYPE\tXP\tDESCRIPTION")
	for _, e := range events {
		fmt.Fprintf(w, "  %s\t%s\t%+d\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04"),
			e.EventType,
			e.XPEarned,
			e.Description,
		)
	}
	return w.Flush()
}
