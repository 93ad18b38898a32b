package app

import (
	"context"
	"flag"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"k8s.io/component-base/cli/globalflag"
	controllerruntime "sigs.k8s.io/controller-runtime"

	"github.com/autopeer-io/adminupgrade/cmd/cpeer-admin-upgrade/app/options"
	"github.com/autopeer-io/adminupgrade/internal/adminupgrade"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

const commandName = "cpeer-admin-upgrade"

// NewAdminUpgradeCommand creates the root command. Every subcommand shares the
// option flags; they are persistent on the root.
func NewAdminUpgradeCommand(ctx context.Context) *cobra.Command {
	opts := options.NewAdminUpgradeOptions()
	var output string

	cmd := &cobra.Command{
		Use:   commandName,
		Short: "Upgrade the crowbar admin server",
		Long: `cpeer-admin-upgrade drives the upgrade of the crowbar admin node. It checks the
upgrade preconditions, launches the detached upgrade script, reports the upgrade
state kept in the sentinel files and serves all of this over HTTP.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.Load(cmd.Flags()); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			if output != outputTable && output != outputJSON {
				return fmt.Errorf("--output must be %q or %q, got %q", outputTable, outputJSON, output)
			}
			log.Init(opts.LogOptions)
			controllerruntime.SetLogger(log.Std().Logr())
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = log.Sync()
		},
	}
	cmd.SetContext(ctx)

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	fs := cmd.PersistentFlags()
	namedfs := opts.Flags()
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	namedfs.FlagSet("misc").StringVarP(&output, "output", "o", outputTable, "Output format of the client commands: table or json.")
	for _, f := range namedfs.FlagSets {
		fs.AddFlagSet(f)
	}

	build := func() (*adminupgrade.Controller, error) {
		c, err := opts.Config().New()
		if err != nil {
			return nil, fmt.Errorf("failed to create admin upgrade controller: %w", err)
		}
		return c, nil
	}
	printer := func(cmd *cobra.Command) *Printer {
		return NewPrinter(cmd.OutOrStdout(), output)
	}

	cmd.AddCommand(
		newServeCommand(build),
		newStatusCommand(build, printer),
		newPrechecksCommand(build, printer),
		newPrepareCommand(build, printer),
		newStartCommand(build, printer),
		newCancelCommand(build, printer),
		newWatchCommand(build, printer),
	)

	return cmd
}

type buildFunc func() (*adminupgrade.Controller, error)

type printerFunc func(cmd *cobra.Command) *Printer

func newServeCommand(build buildFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the upgrade API and watch the upgrade state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
				log.Info(fmt.Sprintf(format, args...))
			}))
			defer undo()
			if err != nil {
				log.Warn("Failed to set GOMAXPROCS", "error", err)
			}

			c, err := build()
			if err != nil {
				return err
			}
			return c.Run(cmd.Context())
		},
	}
}
