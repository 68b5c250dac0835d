package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

var weightCmd = &cobra.Command{
	Use:   "weight",
	Short: "Record weigh-ins and view the trend",
}

var weightDate string

var weightLogCmd = &cobra.Command{
	Use:   "log KG",
	Short: "Record today's (or --date's) body weight",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kg, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("weight %q is not a number", args[0])
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			e, out, err := s.coord.LogWeight(ctx, nutrition.WeightDraft{Date: weightDate, WeightKG: kg})
			if e.ID == "" {
				return err
			}
			fmt.Fprintf(s.out, "%.1f kg on %s\n", e.WeightKG, e.Date)
			printOutcome(s.out, out)
			return nil
		})
	},
}

var weightPeriod string

var weightHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List weigh-ins for the last 30 or 90 days, or all of them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			list, err := s.client.WeightHistory(ctx, weightPeriod)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(s.out, "No weigh-ins in this period.")
				return nil
			}
			for i, e := range list {
				delta := ""
				if i > 0 {
					delta = fmt.Sprintf("  %+.1f", e.WeightKG-list[i-1].WeightKG)
				}
				fmt.Fprintf(s.out, "%s  %6.1f kg%s\n", e.Date, e.WeightKG, delta)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(weightCmd)
	weightCmd.AddCommand(weightLogCmd, weightHistoryCmd)

	weightLogCmd.Flags().StringVar(&weightDate, "date", "", "Date YYYY-MM-DD (default today)")
	weightHistoryCmd.Flags().StringVar(&weightPeriod, "period", "30d", "30d, 90d or all")
}
