package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gpttwilight-hash/nutribot/internal/ledger"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
	"github.com/gpttwilight-hash/nutribot/internal/search"
)

var mealOrder = []nutrition.Meal{nutrition.Breakfast, nutrition.Lunch, nutrition.Dinner, nutrition.Snack}

/* ─── today ──────────────────────────────────────────────────────────── */

var todayDate string

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show a day's entries, totals and what is left of the targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		date := todayDate
		if date == "" {
			date = today()
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			if err := s.coord.SelectDay(ctx, date); err != nil {
				return err
			}
			l := s.coord.Ledger()
			printDay(s.out, l.Snapshot(), l.Remaining())
			return nil
		})
	},
}

func printDay(w io.Writer, day ledger.Day, left nutrition.Macros) {
	fmt.Fprintf(w, "Date: %s\n\n", day.Date)
	for _, meal := range mealOrder {
		var lines []nutrition.FoodEntry
		for _, e := range day.Entries {
			if e.Meal == meal {
				lines = append(lines, e)
			}
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s\n", strings.ToUpper(string(meal)))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, e := range lines {
			fmt.Fprintf(tw, "  %s\t%s\t%.0fg\t%d kcal\tP %.1f F %.1f C %.1f\n",
				shortID(e.ID), e.Name, e.WeightG, e.Calories, e.ProteinG, e.FatG, e.CarbsG)
		}
		tw.Flush()
	}
	if len(day.Entries) == 0 {
		fmt.Fprintln(w, "Nothing logged yet.")
	}
	fmt.Fprintln(w)
	printMacros(w, "Eaten", day.Totals)
	printMacros(w, "Target", day.Targets)
	printMacros(w, "Left", left)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

/* ─── log ────────────────────────────────────────────────────────────── */

var (
	logMeal     string
	logDate     string
	logCalories int
	logProtein  float64
	logFat      float64
	logCarbs    float64
	logWeight   float64
	logLookup   bool
)

var logCmd = &cobra.Command{
	Use:   "log NAME",
	Short: "Log a food entry",
	Long: "Log a food entry with explicit values, or with --lookup take the per-100 g values " +
		"of the first search hit and scale them to --weight.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.Join(args, " ")
		meal := nutrition.Meal(logMeal)
		return withSession(cmd, func(ctx context.Context, s *session) error {
			draft := nutrition.EntryDraft{
				Date:     logDate,
				Name:     name,
				Calories: logCalories,
				ProteinG: logProtein,
				FatG:     logFat,
				CarbsG:   logCarbs,
				WeightG:  logWeight,
				Meal:     meal,
				Source:   nutrition.SourceManual,
			}
			if logLookup {
				hits, err := s.client.SearchFoods(ctx, name, 1)
				if err != nil {
					return err
				}
				if len(hits) == 0 {
					return fmt.Errorf("no food matches %q", name)
				}
				draft = hits[0].Draft(meal, logWeight, nutrition.SourceSearch)
				draft.Date = logDate
			}
			if draft.Date != "" {
				if err := s.coord.SelectDay(ctx, draft.Date); err != nil {
					return err
				}
			}

			entry, out, err := s.coord.LogFood(ctx, draft)
			if entry.ID == "" {
				return err
			}
			fmt.Fprintf(s.out, "Logged %s: %d kcal (%s)\n", entry.Name, entry.Calories, entry.Meal)
			printOutcome(s.out, out)
			if err != nil {
				fmt.Fprintf(s.out, "warning: day totals may be stale: %v\n", err)
				return nil
			}
			printMacros(s.out, "Left", s.coord.Ledger().Remaining())
			return nil
		})
	},
}

/* ─── delete ─────────────────────────────────────────────────────────── */

var deleteDate string

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a food entry (the ID prefix shown by `today` is enough)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := deleteDate
		if date == "" {
			date = today()
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			if err := s.coord.SelectDay(ctx, date); err != nil {
				return err
			}
			id, err := resolveEntryID(s.coord.Ledger().Snapshot().Entries, args[0])
			if err != nil {
				return err
			}
			if err := s.coord.DeleteFood(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Deleted %s\n", shortID(id))
			return nil
		})
	},
}

// resolveEntryID expands an ID prefix against the day's entries.
func resolveEntryID(entries []nutrition.FoodEntry, prefix string) (string, error) {
	var match string
	for _, e := range entries {
		if strings.HasPrefix(e.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
			}
			match = e.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no entry with id %q on this day", prefix)
	}
	return match, nil
}

/* ─── search / recent ────────────────────────────────────────────────── */

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search the food catalogue (values per 100 g)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return withSession(cmd, func(ctx context.Context, s *session) error {
			results := make(chan search.Result, 1)
			d := search.New(s.client, func(r search.Result) {
				select {
				case results <- r:
				default:
				}
			}, search.WithLimit(searchLimit), search.WithLogger(s.logger))
			defer d.Close()

			d.Type(query)
			select {
			case r := <-results:
				if r.Err != nil {
					return r.Err
				}
				printFoods(s.out, r.Items)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List foods you logged recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			items, err := s.client.RecentFoods(ctx)
			if err != nil {
				return err
			}
			printFoods(s.out, items)
			return nil
		})
	},
}

func printFoods(w io.Writer, items []nutrition.FoodItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No foods found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKCAL\tPROTEIN\tFAT\tCARBS\tWEIGHT")
	for _, f := range items {
		weight := "100g"
		if f.WeightG > 0 {
			weight = fmt.Sprintf("%.0fg", f.WeightG)
		}
		fmt.Fprintf(tw, "%s\t%.0f\t%.1f\t%.1f\t%.1f\t%s\n", f.Name, f.Calories, f.Protein, f.Fat, f.Carbs, weight)
	}
	tw.Flush()
}

/* ─── stats ──────────────────────────────────────────────────────────── */

var statsPeriod string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daily totals and averages for the last 7 or 30 days",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			st, err := s.client.Stats(ctx, statsPeriod)
			if err != nil {
				return err
			}
			for _, d := range st.Daily {
				printMacros(s.out, d.Date, d.Macros)
			}
			if len(st.Daily) == 0 {
				fmt.Fprintln(s.out, "No entries in this period.")
				return nil
			}
			fmt.Fprintln(s.out)
			printMacros(s.out, "Average", st.Average)
			return nil
		})
	},
}

/* ─── photo ──────────────────────────────────────────────────────────── */

var (
	photoLog    bool
	photoMeal   string
	photoWeight float64
)

var photoCmd = &cobra.Command{
	Use:   "photo FILE",
	Short: "Recognize a meal photo and optionally log it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read photo: %w", err)
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			est, out, err := s.coord.AnalyzePhoto(ctx, filepath.Base(args[0]), data)
			if err != nil && est.DishName == "" {
				return err
			}
			fmt.Fprintf(s.out, "%s, about %.0fg (confidence %.0f%%)\n", est.DishName, est.EstimatedWeightG, est.Confidence*100)
			fmt.Fprintf(s.out, "Per 100g: %.0f kcal | P %.1fg | F %.1fg | C %.1fg\n",
				est.CaloriesPer100g, est.ProteinPer100g, est.FatPer100g, est.CarbsPer100g)
			if est.LowConfidence() {
				fmt.Fprintln(s.out, "warning: low confidence, check the values before logging")
			}
			printOutcome(s.out, out)
			if !photoLog {
				return nil
			}

			entry, logged, err := s.coord.LogFood(ctx, est.Draft(nutrition.Meal(photoMeal), photoWeight))
			if entry.ID == "" {
				return err
			}
			fmt.Fprintf(s.out, "Logged %s: %d kcal (%s)\n", entry.Name, entry.Calories, entry.Meal)
			printOutcome(s.out, logged)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(todayCmd, logCmd, deleteCmd, searchCmd, recentCmd, statsCmd, photoCmd)

	todayCmd.Flags().StringVar(&todayDate, "date", "", "Date YYYY-MM-DD (default today)")

	logCmd.Flags().StringVarP(&logMeal, "meal", "m", string(nutrition.Snack), "breakfast, lunch, dinner or snack")
	logCmd.Flags().StringVar(&logDate, "date", "", "Date YYYY-MM-DD (default today)")
	logCmd.Flags().IntVar(&logCalories, "calories", 0, "Calories (kcal)")
	logCmd.Flags().Float64Var(&logProtein, "protein", 0, "Protein (g)")
	logCmd.Flags().Float64Var(&logFat, "fat", 0, "Fat (g)")
	logCmd.Flags().Float64Var(&logCarbs, "carbs", 0, "Carbs (g)")
	logCmd.Flags().Float64VarP(&logWeight, "weight", "w", 100, "Portion weight (g)")
	logCmd.Flags().BoolVar(&logLookup, "lookup", false, "Take values from the first search hit")

	deleteCmd.Flags().StringVar(&deleteDate, "date", "", "Day the entry belongs to (default today)")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", search.DefaultLimit, "Maximum results")

	statsCmd.Flags().StringVar(&statsPeriod, "period", "7d", "7d or 30d")

	photoCmd.Flags().BoolVar(&photoLog, "log", false, "Log the recognized dish")
	photoCmd.Flags().StringVarP(&photoMeal, "meal", "m", string(nutrition.Snack), "Meal to log under with --log")
	photoCmd.Flags().Float64VarP(&photoWeight, "weight", "w", 0, "Portion weight (g), default the estimate")
}
