// Package cmd implements the postmessage command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chrisuehlinger/postmessage/internal/config"
	"github.com/chrisuehlinger/postmessage/internal/logging"
)

// Version is the CLI version, overridden at build time with -ldflags.
var Version = "0.1.0"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "postmessage",
	Short: "Run scripts in headless windows and service workers that message each other",
	Long: `postmessage runs JavaScript in a group of headless window and service
worker scopes, lets them talk through postMessage, MessageChannel and
service worker clients, and reports every message event that was fired.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("output", "text", "output format: text, json, yaml")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// newLogger builds the process logger from config and the --log-level flag.
func newLogger(cmd *cobra.Command) *logging.Logger {
	level := cfg.Log.Level
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		level = flag
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), logging.ParseLevel(level), cfg.Log.Format)
	logging.SetDefault(logger)
	return logger
}
