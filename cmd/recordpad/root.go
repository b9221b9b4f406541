package main

import (
	"fmt"
	"os"

	"recordpad/client"
	"recordpad/config"
	"recordpad/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	endpoint   string
	verbose    bool

	conf config.Config
)

var rootCmd = &cobra.Command{
	Use:   "recordpad",
	Short: "Commit and fetch records on a record service",
	Long: `recordpad runs a record service and talks to one.
Documents are committed to POST /commit and read back from GET /resource/{uri}.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		conf, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if endpoint != "" {
			conf.Client.Endpoint = endpoint
		}
		if verbose {
			conf.Log.Level = "debug"
		}

		return logger.Init(logger.Options{
			Level:      conf.Log.Level,
			File:       conf.Log.File,
			MaxSizeMB:  conf.Log.MaxSizeMB,
			MaxBackups: conf.Log.MaxBackups,
			MaxAgeDays: conf.Log.MaxAgeDays,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "Record service endpoint (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if conf.Client.Timeout > 0 {
		opts = append(opts, client.WithTimeout(conf.Client.Timeout))
	}
	return client.New(conf.Client.Endpoint, opts...)
}
