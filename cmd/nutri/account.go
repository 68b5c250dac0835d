package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show your body profile and daily targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			u, err := s.client.Me(ctx)
			if err != nil {
				return err
			}
			printUser(s.out, u)
			return nil
		})
	},
}

func printUser(w io.Writer, u nutrition.User) {
	name := u.FirstName
	if name == "" {
		name = u.Username
	}
	fmt.Fprintf(w, "%s\n", name)
	if !u.Onboarded {
		fmt.Fprintln(w, "Profile not set up yet; targets are the defaults. Run `nutri profile set`.")
	} else {
		fmt.Fprintf(w, "%s, %d y, %.0f cm, %.1f kg, %s activity, goal %s\n",
			u.Gender, u.AgeYears, u.HeightCM, u.WeightKG, u.ActivityLevel, u.Goal)
		if u.TargetWeightKG > 0 {
			fmt.Fprintf(w, "Target weight %.1f kg\n", u.TargetWeightKG)
		}
	}
	fmt.Fprintln(w)
	printMacros(w, "Daily", u.Targets)
}

var body nutrition.BodyProfile

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set your body profile; the server recomputes your daily targets",
	Example: "  nutri profile set --gender female --age 31 --height 168 --weight 64 " +
		"--activity moderate --goal cut --target-weight 60",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			u, err := s.client.UpdateProfile(ctx, body)
			if err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Profile saved.")
			printMacros(s.out, "Daily", u.Targets)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)

	f := profileSetCmd.Flags()
	f.StringVar(&body.Gender, "gender", "", "male or female")
	f.IntVar(&body.AgeYears, "age", 0, "Age in years")
	f.Float64Var(&body.HeightCM, "height", 0, "Height (cm)")
	f.Float64Var(&body.WeightKG, "weight", 0, "Current weight (kg)")
	f.Float64Var(&body.TargetWeightKG, "target-weight", 0, "Target weight (kg), optional")
	f.StringVar(&body.ActivityLevel, "activity", "moderate", "sedentary, moderate, active or athlete")
	f.StringVar(&body.Goal, "goal", "maintain", "cut, maintain or bulk")
	for _, name := range []string{"gender", "age", "height", "weight"} {
		profileSetCmd.MarkFlagRequired(name)
	}
}
