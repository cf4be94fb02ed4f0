package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/docuflow/receiptscan/internal/batch"
	"github.com/docuflow/receiptscan/internal/store"
)

// imageExtensions are the file types a batch run picks up.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".gif":  true,
}

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <directory>",
	Short: "Scan every receipt image in a directory",
	Long: `Scan all receipt images in a directory with bounded parallelism.

Images are processed in chunks no wider than the concurrency cap. One
unreadable image fails on its own; the rest of the batch is unaffected.
The whole run is bounded by the batch timeout.

Examples:
  # Scan a folder of receipts
  receiptscan batch ./receipts

  # Eight at a time, results to a file
  receiptscan batch --concurrency 8 --results results.json ./receipts`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("concurrency", 0, "max images processed at once (default from config)")
	batchCmd.Flags().Duration("batch-timeout", 0, "deadline for the whole batch (default from config)")
	batchCmd.Flags().String("results", "", "write per-image JSON results to file")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		cfg.Batch.MaxConcurrentTasks = n
	}
	if d, _ := cmd.Flags().GetDuration("batch-timeout"); d > 0 {
		cfg.Batch.Timeout = d
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	dir := args[0]
	paths, err := collectImages(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no receipt images found in %s", dir)
	}

	ctx := context.Background()

	p, err := newPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	reqs := make([]batch.Request, 0, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithRequestID(path).WithError(err).Warn("Skipping unreadable file")
			continue
		}
		reqs = append(reqs, batch.Request{TaskID: i, Name: path, Data: data})
	}

	log.WithFields(
		"directory", dir,
		"images", len(reqs),
		"concurrency", cfg.Batch.MaxConcurrentTasks,
	).Info("Starting batch scan")

	runner := batch.NewRunner(
		func(ctx context.Context, req batch.Request) (*store.ScanResult, error) {
			out, err := p.scanBytes(ctx, req.Name, req.Data, false)
			if err != nil {
				return nil, err
			}
			return out.ScanResult, nil
		},
		batch.WithMaxConcurrentTasks(cfg.Batch.MaxConcurrentTasks),
		batch.WithTimeout(cfg.Batch.Timeout),
		batch.WithLogger(log),
	)

	results := runner.Run(ctx, reqs)

	succeeded := 0
	var failures []batch.Result
	var total time.Duration
	for _, res := range results {
		if res.Success {
			succeeded++
		} else {
			failures = append(failures, res)
		}
		total += res.Duration
	}

	fmt.Println()
	fmt.Println("=== Batch Complete ===")
	fmt.Printf("Total images: %d\n", len(results))
	fmt.Printf("Successful: %d\n", succeeded)
	fmt.Printf("Failed: %d\n", len(failures))
	fmt.Printf("Cumulative scan time: %s\n", formatDuration(total))

	if resultsPath, _ := cmd.Flags().GetString("results"); resultsPath != "" {
		encoded, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		if err := os.WriteFile(resultsPath, append(encoded, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write results file: %w", err)
		}
		fmt.Printf("Results written to %s\n", resultsPath)
	}

	if len(failures) > 0 {
		fmt.Println("\nFailures:")
		for _, failure := range failures {
			fmt.Printf("  - %s: %s\n", failure.Name, failure.Error)
		}
		return fmt.Errorf("batch completed with %d failures", len(failures))
	}

	return nil
}

// collectImages lists the image files directly under dir, sorted for a
// stable batch order.
func collectImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
