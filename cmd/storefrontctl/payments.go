package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func paymentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Inspect and repair payment state",
	}

	var (
		minAge time.Duration
		limit  int
	)
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Refresh pending payments from the gateway",
		Long: `Reconcile looks up every payment that has been pending for longer than
--min-age and settles it from the gateway session state. Zero values fall
back to STOREFRONT_RECONCILE_MIN_AGE and STOREFRONT_RECONCILE_BATCH_SIZE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if minAge < 0 || limit < 0 {
				return fmt.Errorf("--min-age and --limit must not be negative")
			}
			ctx := cmd.Context()
			cfg, err := a.loadConfig(ctx, a.envFile, "Stripe.APIKey")
			if err != nil {
				return err
			}
			if minAge == 0 {
				minAge = cfg.Reconcile.MinAge
			}
			if limit == 0 {
				limit = cfg.Reconcile.BatchSize
			}

			container, err := a.newContainer(ctx, cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := container.Close(closeCtx); err != nil {
					a.logger.Warn("dependency close error", zap.Error(err))
				}
			}()

			report, err := container.Services.Payments.ReconcilePending(ctx, minAge, limit)
			if err != nil {
				return err
			}
			a.logger.Info("payments reconciled",
				zap.Int("scanned", report.Scanned),
				zap.Int("paid", report.Paid),
				zap.Int("failed", report.Failed),
				zap.Int("errors", report.Errors),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d paid=%d failed=%d unchanged=%d errors=%d\n",
				report.Scanned, report.Paid, report.Failed, report.Unchanged, report.Errors)
			return nil
		},
	}
	reconcile.Flags().DurationVar(&minAge, "min-age", 0, "only reconcile payments pending for at least this long")
	reconcile.Flags().IntVar(&limit, "limit", 0, "maximum payments to reconcile")

	cmd.AddCommand(reconcile)
	return cmd
}
