package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hyperfetch/internal/mapper"
	"hyperfetch/internal/scheduler"
)

func newFetchCmd(configPath *string) *cobra.Command {
	var outputPath, region, expectedHash string

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download a single URL through the mirror-aware chunked scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if outputPath == "" {
				outputPath = "download.bin"
			}
			if region == "" {
				region = a.cfg.Region
			}

			hashAlgorithm := ""
			if len(expectedHash) == 32 {
				hashAlgorithm = "md5"
			}

			result, err := a.coordinator.Download(context.Background(), args[0], mapper.Region(region), scheduler.Options{
				OutputPath:    outputPath,
				ExpectedHash:  expectedHash,
				HashAlgorithm: hashAlgorithm,
			})
			if err != nil {
				return fmt.Errorf("download failed: %w", err)
			}

			fmt.Printf("saved %s (%d bytes, %.2f MB/s, mirror=%s)\n",
				result.FinalPath, result.SizeBytes, result.ThroughputBps/1e6, result.DominantURL)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path")
	cmd.Flags().StringVar(&region, "region", "", "region filter for URL mapping rules (defaults to config)")
	cmd.Flags().StringVar(&expectedHash, "hash", "", "expected content hash (sha256 or md5 hex) for integrity verification")

	return cmd
}
