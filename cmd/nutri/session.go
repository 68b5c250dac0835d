package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/apiclient"
	"github.com/gpttwilight-hash/nutribot/internal/config"
	"github.com/gpttwilight-hash/nutribot/internal/coordinator"
	"github.com/gpttwilight-hash/nutribot/internal/gamify"
	"github.com/gpttwilight-hash/nutribot/internal/ledger"
	"github.com/gpttwilight-hash/nutribot/internal/logging"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// session is everything a command needs to talk to the server.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	client *apiclient.Client
	coord  *coordinator.Coordinator
	out    io.Writer
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if tokenFile != "" {
		cfg.TokenFile = tokenFile
	}
	if cfg.TokenFile == "" {
		return nil, errors.New("no token location; set NUTRI_TOKEN_FILE or --token-file")
	}
	return cfg, nil
}

func withSession(cmd *cobra.Command, run func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer logger.Sync()

	client := apiclient.New(cfg.APIURL, apiclient.FileCredentials{Path: cfg.TokenFile},
		apiclient.WithTimeout(cfg.Timeout),
		apiclient.WithLogger(logger),
	)
	engine := gamify.NewEngine(client, gamify.NewScheduler(nil, nil, logger), gamify.WithLogger(logger))
	coord := coordinator.New(ledger.New(client, today(), logger), engine, client, logger)
	defer coord.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	return run(ctx, &session{cfg: cfg, logger: logger, client: client, coord: coord, out: cmd.OutOrStdout()})
}

func today() string { return time.Now().Format(nutrition.DateLayout) }

// printOutcome reports what an action earned, in the order the celebrations
// were scheduled.
func printOutcome(w io.Writer, o coordinator.Outcome) {
	for _, c := range o.Celebrations {
		switch c.Kind {
		case gamify.KindXPGain:
			fmt.Fprintf(w, "  +%d XP\n", c.Amount)
		case gamify.KindLevelUp:
			fmt.Fprintf(w, "  Level up! You are now level %d\n", c.Level)
		case gamify.KindAchievement:
			if c.Achievement != nil {
				fmt.Fprintf(w, "  %s Achievement unlocked: %s (%s)\n", c.Achievement.Icon, c.Achievement.Name, c.Achievement.Description)
			}
		}
	}
	if s := o.Result.Streak; s != nil && s.Updated {
		fmt.Fprintf(w, "  Streak: %d days\n", s.Days)
	}
}

func printMacros(w io.Writer, label string, m nutrition.Macros) {
	fmt.Fprintf(w, "%-10s %5d kcal | P %.1fg | F %.1fg | C %.1fg\n", label, m.Calories, m.ProteinG, m.FatG, m.CarbsG)
}
