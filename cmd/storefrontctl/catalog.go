package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/repositories"
)

func catalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage catalog products",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "seed <file>",
		Short: "Upsert products from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			products, err := repositories.LoadCatalogSeed(args[0], time.Now().UTC())
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig(ctx, a.envFile)
			if err != nil {
				return err
			}
			reg, err := a.openRegistry(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := reg.Close(ctx); err != nil {
					a.logger.Warn("registry close error", zap.Error(err))
				}
			}()

			written, err := repositories.SeedCatalog(ctx, reg.Products(), products)
			if err != nil {
				return err
			}
			a.logger.Info("catalog seeded", zap.String("driver", cfg.Storage.Driver), zap.Int("products", written))
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products\n", written)
			return nil
		},
	})
	return cmd
}
