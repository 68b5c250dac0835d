package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

var workoutCmd = &cobra.Command{
	Use:   "workout",
	Short: "Mark training days and see how consistent you are",
}

var (
	workoutDate  string
	workoutSkip  bool
	workoutNotes string
)

var workoutLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Mark a day as trained (or, with --skip, as not trained)",
	RunE: func(cmd *cobra.Command, args []string) error {
		date := workoutDate
		if date == "" {
			date = today()
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			w, out, err := s.coord.LogWorkout(ctx, nutrition.WorkoutDraft{
				Date:      date,
				Completed: !workoutSkip,
				Notes:     workoutNotes,
			})
			if w.ID == "" {
				return err
			}
			if w.Completed {
				fmt.Fprintf(s.out, "Workout logged for %s\n", w.Date)
			} else {
				fmt.Fprintf(s.out, "%s marked as a rest day\n", w.Date)
			}
			printOutcome(s.out, out)
			return nil
		})
	},
}

var workoutMonth string

var workoutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a month's workout days",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			list, err := s.client.Workouts(ctx, workoutMonth)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(s.out, "No workouts this month.")
				return nil
			}
			tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
			for _, w := range list {
				status := "done"
				if !w.Completed {
					status = "skipped"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", w.Date, status, w.Notes)
			}
			return tw.Flush()
		})
	},
}

var workoutStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count workout days and the longest run of them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			st, err := s.client.WorkoutStats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Last 7 days:  %d\n", st.Last7Days)
			fmt.Fprintf(s.out, "Last 30 days: %d\n", st.Last30Days)
			fmt.Fprintf(s.out, "Best streak:  %d\n", st.BestStreak)
			fmt.Fprintf(s.out, "Total:        %d\n", st.Total)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(workoutCmd)
	workoutCmd.AddCommand(workoutLogCmd, workoutListCmd, workoutStatsCmd)

	workoutLogCmd.Flags().StringVar(&workoutDate, "date", "", "Date YYYY-MM-DD (default today)")
	workoutLogCmd.Flags().BoolVar(&workoutSkip, "skip", false, "Record the day as not trained")
	workoutLogCmd.Flags().StringVar(&workoutNotes, "notes", "", "Free-form notes")

	workoutListCmd.Flags().StringVar(&workoutMonth, "month", "", "Month YYYY-MM (default current)")
}
