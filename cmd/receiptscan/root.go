package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/docuflow/receiptscan/internal/config"
	"github.com/docuflow/receiptscan/internal/logger"
)

var (
	cfgFile string
	version = "dev" // Set via build flags
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "receiptscan",
	Short: "Extract structured records from receipt photos with cascading OCR",
	Long: `receiptscan turns photographed receipts into structured JSON records.

An image is geometrically and photometrically prepared, then run through a
cascade of recognition engines from fast and local to accurate and remote.
Each result is scored for sufficiency; the cascade escalates only when the
cheaper engine's text is not good enough. The chosen transcription is parsed
into store, date, line items, amounts and payment fields.

Features:
  - Perspective correction, deskew, denoise and binarization
  - Engine cascade: tesseract, ollama, openai, anthropic, gemini
  - Korean receipt text repair (width folding, digit confusion fixes)
  - Duplicate detection via content and perceptual hashing
  - Result store answering repeat scans without re-processing
  - Bounded parallel batch runs over whole directories`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = version

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.receiptscan.yaml)")
	rootCmd.PersistentFlags().String("lang", "", "recognition languages (e.g. kor, kor+eng)")
	rootCmd.PersistentFlags().StringSlice("engines", nil, "engine cascade order (comma-separated)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().String("store", "", "result database path")
	rootCmd.PersistentFlags().Bool("no-cache", false, "always re-process, ignore stored results")
	rootCmd.PersistentFlags().Duration("timeout", 0, "per-scan deadline across all engines")
}

// loadConfig loads the layered configuration and applies any flags the
// user set on top of it. Flags beat env vars and the config file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("lang") {
		cfg.Language, _ = flags.GetString("lang")
	}
	if flags.Changed("engines") {
		cfg.Engines, _ = flags.GetStringSlice("engines")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("store") {
		cfg.StorePath, _ = flags.GetString("store")
	}
	if flags.Changed("no-cache") {
		noCache, _ := flags.GetBool("no-cache")
		cfg.CacheEnabled = !noCache
	}
	if flags.Changed("timeout") {
		timeout, _ := flags.GetDuration("timeout")
		if timeout > 0 {
			cfg.RequestTimeout = timeout
		}
	}

	// Re-validate: flag values bypass Load's checks
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// newLogger builds the process logger from the loaded configuration.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// formatDuration trims sub-millisecond noise for display.
func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// joinEngines renders a cascade order for display.
func joinEngines(engines []string) string {
	return strings.Join(engines, " -> ")
}
