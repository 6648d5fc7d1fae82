// Package cli wires configuration, backends and the service into the
// labcore command tree.
package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labcore/internal/config"
	"labcore/internal/platform/logger"
)

type globalFlags struct {
	configFile string
	envFiles   []string
	logLevel   string
	trace      bool
}

// NewRootCmd builds the labcore command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "labcore",
		Short: "Laboratory analysis workflow service",
		Long: `labcore tracks laboratory analyses from sample intake through signature,
revision and reporting, and keeps the equipment usage ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "config file (default is ./labcore.yaml when present)")
	pf.StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")
	pf.StringVar(&flags.logLevel, "log-level", "", "override log.level")
	pf.BoolVar(&flags.trace, "trace", false, "write a JSON trace line per service operation to stderr")

	root.AddCommand(
		newServeCmd(flags),
		newBackfillCmd(flags),
		newCleanupCmd(flags),
		newDashboardCmd(flags),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// loadConfig reads dotenv files, the config file and the environment.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(flags.envFiles...); err != nil {
		return nil, err
	}
	v, err := config.New(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		v.Set("log.level", flags.logLevel)
	}
	return config.Load(v)
}

// withRuntime loads config, opens the runtime and runs fn, closing
// everything afterwards.
func withRuntime(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *runtime) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var trace io.Writer
	if flags.trace {
		trace = cmd.ErrOrStderr()
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := open(ctx, cfg, log, trace)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("close runtime", zap.Error(err))
		}
	}()
	return fn(ctx, rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
