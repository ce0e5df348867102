package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/slipstream/internal/server"
	"github.com/jmylchreest/slipstream/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API",
	Long: `Serve a JSON API that starts one scrape session at a time and lets
clients pause, resume and stop it, with progress streamed as server-sent
events from /api/v1/session/events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	def := server.DefaultConfig()
	flags := serveCmd.Flags()
	flags.String("addr", def.Addr, "listen address")
	flags.Float64("rate-limit", def.RequestsPerSecond, "requests per second per client (0=unlimited)")
	flags.Int("burst", def.Burst, "rate limit burst")

	_ = viper.BindPFlag("server.addr", flags.Lookup("addr"))
	_ = viper.BindPFlag("server.rate_limit", flags.Lookup("rate-limit"))
	_ = viper.BindPFlag("server.burst", flags.Lookup("burst"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	sessCfg, err := sessionConfig()
	if err != nil {
		return err
	}

	cfg := server.DefaultConfig()
	cfg.Addr = viper.GetString("server.addr")
	cfg.RequestsPerSecond = viper.GetFloat64("server.rate_limit")
	cfg.Burst = viper.GetInt("server.burst")
	if viper.GetBool("debug") {
		cfg.Mode = "debug"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := server.NewManager(ctx, session.WithConfig(sessCfg))
	logInfo("Listening on %s", cfg.Addr)
	return server.New(cfg, m).Run(ctx)
}
