package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docuflow/receiptscan/internal/engine"
)

// enginesCmd represents the engines command
var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List recognition engines or compare them on one image",
	Long: `Show the configured engine cascade and each engine's availability.

With --image, every engine in the cascade is run on the same receipt and
their transcriptions are scored side by side, which is the quickest way to
pick a cascade order for a new receipt style.

Examples:
  # Show the cascade and engine health
  receiptscan engines

  # Compare all engines on one receipt
  receiptscan engines --image receipt.jpg`,
	RunE: runEngines,
}

func init() {
	rootCmd.AddCommand(enginesCmd)

	enginesCmd.Flags().String("image", "", "receipt image to run through every engine")
}

func runEngines(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	imagePath, _ := cmd.Flags().GetString("image")
	if imagePath != "" {
		// Comparison runs the full cascade without early stopping.
		cfg.StopEarly = false
	}

	ctx := context.Background()

	p, err := newPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	fmt.Printf("Cascade: %s\n", joinEngines(cfg.Engines))
	fmt.Println()
	fmt.Printf("%-12s %-12s %s\n", "ENGINE", "STATUS", "MODEL")
	for _, eng := range p.engines {
		status := "unavailable"
		if eng.Available() {
			status = "ready"
		}
		model := cfg.Engine.Model
		if model == "" {
			model = engine.DefaultModelFor(eng.ID())
		}
		if model == "" {
			model = "-"
		}
		fmt.Printf("%-12s %-12s %s\n", eng.ID(), status, model)
	}

	if imagePath == "" {
		return nil
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image %s: %w", imagePath, err)
	}

	// Bypass the store: a comparison is always a fresh run.
	p.cfg.CacheEnabled = false

	out, err := p.scanBytes(ctx, imagePath, data, true)
	if err != nil {
		return fmt.Errorf("comparison failed: %w", err)
	}

	fmt.Println()
	fmt.Printf("%-12s %-10s %-8s %-10s %s\n", "ENGINE", "CONFIDENCE", "SCORE", "DURATION", "TEXT")
	for _, tried := range out.Tried {
		text := firstLine(tried.Text)
		if tried.Error != "" {
			text = "error: " + tried.Error
		}
		fmt.Printf("%-12s %-10.2f %-8.2f %-10s %s\n",
			tried.EngineID, tried.Confidence, tried.AdjustedScore,
			formatDuration(tried.Duration), text)
	}

	fmt.Println()
	fmt.Printf("Chosen: %s (score %.2f)\n", out.EngineID, out.AdjustedScore)
	return nil
}

// firstLine truncates a transcription to a single display line.
func firstLine(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if runes := []rune(line); len(runes) > 60 {
		line = string(runes[:60]) + "..."
	}
	return line
}
