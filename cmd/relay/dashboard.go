package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/orchestra-mcp/relay/src/dashboard"
	"github.com/spf13/cobra"
)

var (
	dashServer   string
	dashIdentity string
	dashUserID   string
)

// DashboardCmd runs a headless dashboard: it registers, applies admin
// commands to in-memory state and reports activity back.
var DashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Run a headless dashboard client",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log)

		clientID, err := dashboard.LoadIdentity(dashIdentity)
		if err != nil {
			return err
		}

		base := strings.TrimRight(dashServer, "/")
		state := dashboard.NewState()
		state.RecordLogin(dashUserID)
		reporter := dashboard.NewHTTPReporter(base+"/events", clientID, logger,
			dashboard.WithUserID(dashUserID),
			dashboard.WithErrorLog(state.LogError))
		defer reporter.Wait()

		client := dashboard.NewClient(websocketURL(base)+"/ws", clientID,
			dashboard.NewInterpreter(state, reporter, logger), logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info().Str("client_id", clientID).Str("server", base).Msg("dashboard starting")
		reporter.Report("login", map[string]any{"username": dashUserID})

		err = client.Run(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, dashboard.ErrKilled):
			logger.Warn().Msg("stopped by kill switch")
			return nil
		}
		return err
	},
}

func init() {
	DashboardCmd.Flags().StringVarP(&dashServer, "server", "s", GetEnv("RELAY_SERVER", "http://localhost:8080"), "relay base URL [env: RELAY_SERVER]")
	DashboardCmd.Flags().StringVar(&dashIdentity, "identity", GetEnv("RELAY_IDENTITY", ".relay-client-id"), "file holding this dashboard's clientId")
	DashboardCmd.Flags().StringVar(&dashUserID, "user", GetEnv("USER", "anonymous"), "logged-in user reported with events")
	RootCmd.AddCommand(DashboardCmd)
}

// websocketURL maps http(s):// to ws(s)://.
func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
