package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBackfillCmd(flags *globalFlags) *cobra.Command {
	var equipmentID string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Rebuild the equipment usage ledger from incubation and parameter history",
		Long: `backfill folds media incubations and the equipment references recorded on
parameters into the usage ledger. Re-running it only fills in incubation
ends that appeared since the previous run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, flags, func(ctx context.Context, rt *runtime) error {
				report, _, err := rt.svc.BackfillHistory(ctx, rt.systemActor(), equipmentID)
				if err != nil {
					return err
				}
				rt.metrics.ObserveBackfill(report)
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&equipmentID, "equipment", "", "limit the backfill to one equipment id")
	return cmd
}

func newCleanupCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete analyses whose sample no longer exists at reception",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, flags, func(ctx context.Context, rt *runtime) error {
				if rt.cfg.Intake.BaseURL == "" {
					return errors.New("cleanup needs intake.base_url to check samples")
				}
				if dryRun {
					findings, err := rt.svc.DetectOrphans(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), findings)
				}
				out, _, err := rt.svc.CleanupOrphans(ctx, rt.systemActor())
				if err != nil {
					return err
				}
				rt.log.Info("orphan cleanup", zap.Int("deleted", len(out.Deleted)), zap.Int("kept", len(out.Kept)))
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list orphaned analyses without deleting them")
	return cmd
}

func newDashboardCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print workflow counters as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, flags, func(ctx context.Context, rt *runtime) error {
				d, err := rt.svc.Dashboard(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
}
