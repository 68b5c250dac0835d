// Command nutri logs meals, workouts and weigh-ins against a NutriBot server
// and shows the XP, level-ups and achievements they earn.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

var (
	envFile   string
	apiURL    string
	tokenFile string
)

var rootCmd = &cobra.Command{
	Use:           "nutri",
	Short:         "nutri tracks food, workouts and weight from your terminal",
	Long:          "nutri is the terminal client for a NutriBot server: a food diary with daily targets, XP, streaks and achievements.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Optional .env file with NUTRI_* settings")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Server URL (overrides NUTRI_API_URL)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "Where the login token is kept (overrides NUTRI_TOKEN_FILE)")
}

// describe adds a hint to errors the user can act on.
func describe(err error) string {
	switch {
	case errors.Is(err, nutrition.ErrUnauthenticated):
		return fmt.Sprintf("%v\nrun `nutri login` first", err)
	case errors.Is(err, nutrition.ErrTransport):
		return fmt.Sprintf("%v\nis the server running? (--api or NUTRI_API_URL)", err)
	}
	return err.Error()
}
