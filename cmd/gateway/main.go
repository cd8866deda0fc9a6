package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"security-gateway/middleware/security/application"
)

var (
	cfgFile string

	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Request security gateway for the marketplace API",
	Long: `Reverse proxy that screens every request before it reaches the
marketplace API: threat classification, tiered rate limiting, progressive
slow-down and a suspicious-client watchlist.

All settings come from environment variables (optionally a .env file or
--config file). See UPSTREAM_URL, REDIS_URL, RATE_* and SPEED_*.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway (default command)",
	RunE:  runServe,
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Print the threat pattern catalog",
	Run: func(cmd *cobra.Command, args []string) {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tSEVERITY\tEXPRESSION")
		for _, p := range application.DefaultCatalog().Patterns() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Kind, p.Severity, p.Matcher.String())
		}
		_ = tw.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "security-gateway %s\n", Version)
		fmt.Fprintf(out, "Commit:  %s\n", Commit)
		fmt.Fprintf(out, "Built:   %s\n", BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional config file (yaml, json, env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	v, err := newViper(cfgFile)
	if err != nil {
		return err
	}
	cfg, err := readConfig(v)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	setupLogging(cfg.logLevel, cfg.logFormat)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return serve(ctx, cfg)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("gateway exited")
		os.Exit(1)
	}
}
