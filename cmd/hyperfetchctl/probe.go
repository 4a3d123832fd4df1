package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"hyperfetch/internal/mapper"
)

func newProbeCmd(configPath *string) *cobra.Command {
	var region string

	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Map a canonical URL to its candidate mirrors and probe each one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if region == "" {
				region = a.cfg.Region
			}

			candidates := a.mapper.Map(args[0], mapper.Region(region))
			if len(candidates) == 0 {
				return fmt.Errorf("no candidate URLs produced for %s in region %s", args[0], region)
			}

			ctx := context.Background()
			transport := a.coordinator.Transport
			for _, candidate := range candidates {
				result, err := transport.Probe(ctx, candidate, http.Header{})
				if err != nil {
					fmt.Printf("%-60s  ERROR: %v\n", candidate, err)
					continue
				}
				fmt.Printf("%-60s  size=%d ranges=%v latency=%s etag=%q\n",
					candidate, result.Size, result.AcceptRanges, result.Latency, result.ETag)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "region filter for URL mapping rules (defaults to config)")
	return cmd
}
