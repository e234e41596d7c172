package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.aimuz.me/voxbridge/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	v   = viper.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "voxbridge",
	Short: "Real-time speech translation for clinical conversations",
	Long: `voxbridge listens to one side of a conversation, keeps a live transcript,
translates every finished sentence and reads the translation aloud.`,
	Version:           fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./config.yaml, then the user config dir)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("input", "", "input locale, e.g. en-US")
	flags.String("output", "", "output language, e.g. es")
	flags.String("provider", "", "translation provider: groq or together")
	flags.String("model", "", "translation model")
	flags.String("groq-api-key", "", "Groq API key")
	flags.String("together-api-key", "", "Together API key")

	v.BindPFlag("log_level", flags.Lookup("log-level"))
	v.BindPFlag("session.input_language", flags.Lookup("input"))
	v.BindPFlag("session.output_language", flags.Lookup("output"))
	v.BindPFlag("session.provider", flags.Lookup("provider"))
	v.BindPFlag("session.model", flags.Lookup("model"))
	v.BindPFlag("groq.api_key", flags.Lookup("groq-api-key"))
	v.BindPFlag("together.api_key", flags.Lookup("together-api-key"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(languagesCmd)
	rootCmd.AddCommand(modelsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")

	c, err := config.Load(v, path)
	if err != nil {
		return err
	}
	cfg = c

	setupLogging(v.GetString("log_level"))
	if used := v.ConfigFileUsed(); used != "" {
		slog.Debug("config loaded", "path", used)
	}
	return nil
}

// setupLogging routes slog through a charmbracelet logger on stderr.
func setupLogging(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	slog.SetDefault(slog.New(logger))
	if err != nil {
		slog.Warn("unknown log level, using info", "level", level)
	}
}
