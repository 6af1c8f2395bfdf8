// Command certctl is the operator CLI: it inspects result tables, issues
// certificates and renders documents offline.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"certhub/internal/config"
	"certhub/internal/logging"
)

type cli struct {
	envFile string
	verbose bool
	timeout time.Duration

	cfg    config.App
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "certctl",
		Short: "Operator tools for hackathon certificates and ID cards",
		Long: `certctl works against the same configuration as the api server
(environment variables, optionally from a .env file).

Use it to check that every category result table loads, to issue a
certificate for one participant, or to render certificates and ID cards
offline while designing templates.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.envFile != "" {
				_ = godotenv.Load(c.envFile)
			}
			c.cfg = config.Load()
			level := c.cfg.LogLevel
			if c.verbose {
				level = "debug"
			}
			var err error
			c.logger, err = logging.New(c.cfg.Env, level)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Load environment from this file if it exists")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 2*time.Minute, "Operation timeout")

	root.AddCommand(
		c.resultsCmd(),
		c.certificateCmd(),
		c.lookupCmd(),
		c.renderCmd(),
		c.cardCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
