// Command client connects to netgame servers and runs server browser
// queries from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LemmyAI/netgame/internal/config"
)

var (
	cfgFile  string
	logLevel string
	backend  string

	// Set during PersistentPreRun.
	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:           "client",
	Short:         "netgame client and server browser",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if backend != "" {
			cfg.Backend = backend
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		log = cfg.NewLogger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "netgame.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "udp or websocket (overrides backend)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
