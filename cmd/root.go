package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"allinone/internal/config"
	"allinone/internal/engine/video"
	"allinone/internal/logging"
	"allinone/internal/staged"
	"allinone/internal/tools"
	"allinone/internal/usage"
)

var (
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	cfg      *config.Config
	logger   zerolog.Logger
	registry = tools.Default()
)

var rootCmd = &cobra.Command{
	Use:           "allinone",
	Short:         "allinone - PDF, image and video tools",
	Long:          "allinone runs single-purpose file tools (compress, split, convert, watermark...) with staged progress, from the terminal or over HTTP.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath, envFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			loaded.Log.Format = logFormat
		}
		cfg = loaded
		logger = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, off)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console or json)")
}

// tracker returns the usage tracker selected by the configuration.
func tracker() (staged.Tracker, error) {
	if !cfg.Usage.Enabled {
		return usage.Nop{}, nil
	}
	return usage.NewHTTPTracker(cfg.Usage.Endpoint, cfg.Usage.Timeout)
}

func toolEnv() tools.Env {
	return tools.Env{
		Video: video.NewLoader(cfg.FFmpeg.Path, logger),
		Log:   logger,
	}
}
