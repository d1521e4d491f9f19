package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rarehotdog/pjt.mayhem/internal/config"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "mayhem",
	Short:         "Multi-persona Telegram assistant backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "config file path")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mayhem %s\n", Version)
		},
	})
}

func defaultConfigPath() string {
	if v := os.Getenv("MAYHEM_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(os.Getenv("HOME"), ".mayhem", "config.json")
}

// loadConfig reads the config file or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newHolder(cfg *config.Config) *config.Holder {
	return config.NewHolder(cfgPath, cfg)
}
