package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hyperfetch/internal/mapper"
)

func newRankCmd(configPath *string) *cobra.Command {
	var region string

	cmd := &cobra.Command{
		Use:   "rank <url>",
		Short: "Print the tracker's current ranking of a URL's mapped candidates",
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
			ranked := a.tracker.Rank(candidates, len(candidates))
			for i, url := range ranked {
				stats := a.tracker.Stats(url)
				fmt.Printf("%2d. %-60s  score=%.3f success=%d failed=%d avg_speed=%.0fB/s\n",
					i+1, url, a.tracker.Score(url), stats.Successful, stats.Failed, stats.AverageSpeed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "region filter for URL mapping rules (defaults to config)")
	return cmd
}
