package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"hyperfetch/internal/api"
	"hyperfetch/internal/config"
	"hyperfetch/internal/jobmanager"
	"hyperfetch/internal/mapper"
	"hyperfetch/internal/security"
)

func newServeCmd(configPath *string) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback admin API for submitting and inspecting jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.cfg.APIEnabled {
				return fmt.Errorf("api_enabled is false in config; refusing to start the admin API")
			}

			if token == "" {
				token, err = generateToken()
				if err != nil {
					return fmt.Errorf("generate admin token: %w", err)
				}
				fmt.Printf("generated admin token: %s\n", token)
			}

			mgr := jobmanager.New(a.coordinator, a.store, mapper.Region(a.cfg.Region), a.cfg.MaxConcurrentDownloads)
			audit := security.NewAuditLogger(a.logger, a.cfg.LogDir)
			defer audit.Close()

			if stopWatch, err := config.Watch(*configPath, func(cfg config.Config) {
				newMapper, err := mapper.New(cfg.MapperRuleConfigs(), cfg.MapperConfig())
				if err != nil {
					a.logger.Error("config reload: mapper rebuild failed, keeping previous rules", "error", err)
					return
				}
				a.coordinator.Mapper = newMapper
				a.logger.Info("config reloaded, mapping rules updated", "rule_count", len(cfg.URLMappingRules))
			}, func(err error) {
				a.logger.Warn("config watch error", "error", err)
			}); err == nil {
				defer stopWatch()
			} else {
				a.logger.Warn("config hot-reload disabled", "error", err)
			}

			srv := api.New(mgr, a.tracker, audit, a.logger, token)
			return srv.ListenAndServe(a.cfg.APIAddr)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "admin API bearer token (generated and printed if omitted)")
	return cmd
}

func generateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
