package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gpttwilight-hash/nutribot/internal/gamify"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show level, XP, streak and achievements",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			e := s.coord.Engine()
			if err := e.FetchProfile(ctx); err != nil {
				return err
			}
			printProgress(s.out, e.State())
			return nil
		})
	},
}

func printProgress(w io.Writer, st gamify.State) {
	fmt.Fprintf(w, "Level  %d\n", st.Level)
	fmt.Fprintf(w, "XP     %d / %d  %s\n", st.XP, st.XPToNext, bar(st.XP, st.XPToNext, 20))
	fmt.Fprintf(w, "Streak %d days (best %d)\n\n", st.StreakDays, st.MaxStreak)

	earned := 0
	for _, a := range st.Achievements {
		mark := "  "
		if a.Earned {
			mark = a.Icon
			earned++
		}
		fmt.Fprintf(w, "%s %-24s %s\n", mark, a.Name, a.Description)
	}
	fmt.Fprintf(w, "\n%d of %d achievements earned\n", earned, len(st.Achievements))
}

func bar(n, total, width int) string {
	filled := 0
	if total > 0 {
		filled = n * width / total
	}
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

var bonusCmd = &cobra.Command{
	Use:   "bonus",
	Short: "Claim today's daily bonus",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			res, err := s.coord.ClaimDailyBonus(ctx)
			if err != nil {
				return err
			}
			if res.AlreadyClaimed {
				fmt.Fprintln(s.out, "Today's bonus is already claimed. Come back tomorrow.")
				return nil
			}
			xp := res.XPAwarded
			if xp <= 0 {
				xp = gamify.DailyBonusXP
			}
			fmt.Fprintf(s.out, "Daily bonus: +%d XP\n", xp)
			if res.LevelUp && res.Progress != nil {
				fmt.Fprintf(s.out, "Level up! You are now level %d\n", res.Progress.Level)
			}
			for _, a := range res.AchievementsUnlocked {
				fmt.Fprintf(s.out, "  %s Achievement unlocked: %s (%s)\n", a.Icon, a.Name, a.Description)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(progressCmd, bonusCmd)
}
