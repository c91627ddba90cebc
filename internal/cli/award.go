package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tutu-network/xpcore/internal/domain"
)

func init() {
	awardCmd.Flags().StringVarP(&awardKey, "key", "k", "", "Idempotency key (repeats are ignored)")
	awardCmd.Flags().StringVarP(&awardDesc, "description", "d", "", "Ledger description")
	correctCmd.Flags().StringVarP(&correctDesc, "description", "d", "manual correction", "Ledger description")
	rootCmd.AddCommand(awardCmd)
	rootCmd.AddCommand(correctCmd)
}

var (
	awardKey    string
	awardDesc   string
	correctDesc string
)

var awardCmd = &cobra.Command{
	Use:   "award USER EVENT_TYPE AMOUNT",
	Short: "Award XP for an event",
	Long: `Append an XP event for a user and apply counters, streak, and badges.

Known event types: lesson_completed, course_completed, quiz_passed,
certificate_earned, referral. Any snake_case type is accepted.`,
	Args: cobra.ExactArgs(3),
	RunE: runAward,
}

func runAward(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q: %w", args[2], err)
	}

	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Coordinator.Award(cmd.Context(), domain.AwardRequest{
		UserID:         args[0],
		EventType:      domain.EventType(args[1]),
		Amount:         amount,
		Description:    awardDesc,
		IdempotencyKey: awardKey,
	})
	if err != nil {
		return err
	}
	printAwardResult(os.Stdout, res)
	return nil
}

var correctCmd = &cobra.Command{
	Use:   "correct USER AMOUNT",
	Short: "Apply a signed XP correction",
	Long: `Append a compensating xp_correction row. Negative amounts are clamped
so total XP never drops below zero. Streaks are not affected.`,
	Args: cobra.ExactArgs(2),
	RunE: runCorrect,
}

func runCorrect(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q: %w", args[1], err)
	}

	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Coordinator.Correct(cmd.Context(), args[0], amount, correctDesc)
	if err != nil {
		return err
	}
	printAwardResult(os.Stdout, res)
	return nil
}
