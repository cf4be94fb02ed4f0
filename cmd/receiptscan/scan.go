package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <image>",
	Short: "Scan a single receipt image into a structured record",
	Long: `Scan one receipt photo and print the extracted record as JSON.

The image is preprocessed, recognized through the engine cascade, and the
chosen transcription is parsed into structured fields. Repeat scans of the
same image with the same settings are answered from the result store.

Examples:
  # Scan a receipt with the configured cascade
  receiptscan scan receipt.jpg

  # Korean receipt through tesseract only
  receiptscan scan --lang kor --engines tesseract receipt.jpg

  # Keep every engine's attempt in the output
  receiptscan scan --all receipt.jpg

  # Force a fresh scan even if this image was seen before
  receiptscan scan --no-cache receipt.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Bool("all", false, "include every engine attempt in the output")
	scanCmd.Flags().String("output", "", "write JSON to file instead of stdout")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	imagePath := args[0]
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image %s: %w", imagePath, err)
	}

	ctx := context.Background()

	p, err := newPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	wantAll, _ := cmd.Flags().GetBool("all")

	log.WithRequestID(imagePath).WithFields(
		"language", cfg.Language,
		"engines", joinEngines(cfg.Engines),
	).Info("Starting scan")

	out, err := p.scanBytes(ctx, imagePath, data, wantAll)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	outputPath, _ := cmd.Flags().GetString("output")
	if outputPath != "" {
		if err := os.WriteFile(outputPath, append(encoded, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Printf("Result written to %s\n", outputPath)
		return nil
	}

	fmt.Println(string(encoded))
	return nil
}
