package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/adminupgrade/internal/upgrade"
)

var (
	errPrechecksFailed = errors.New("prechecks did not pass")
	errUpgradeFailed   = errors.New("admin server upgrade failed")
)

func newStatusCommand(build buildFunc, printer printerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the admin server upgrade state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			s, err := c.Manager.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printer(cmd).Status(s)
		},
	}
}

func newPrechecksCommand(build buildFunc, printer printerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "prechecks",
		Short: "Evaluate the admin server upgrade preconditions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			report, err := c.Manager.Prechecks(cmd.Context())
			if report == nil {
				return err
			}
			if err := printer(cmd).Prechecks(report); err != nil {
				return err
			}
			if !report.Passed() {
				return errPrechecksFailed
			}
			return nil
		},
	}
}

func newPrepareCommand(build buildFunc, printer printerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Mark the non-admin nodes for the admin server upgrade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			if err := c.Manager.Prepare(cmd.Context()); err != nil {
				return err
			}
			return printer(cmd).Message("nodes prepared")
		},
	}
}

func newStartCommand(build buildFunc, printer printerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch the admin server upgrade script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			pid, err := c.Manager.Launch(cmd.Context())
			if err != nil {
				return err
			}
			return printer(cmd).Launched(pid)
		},
	}
}

func newCancelCommand(build buildFunc, printer printerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the admin server upgrade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			if err := c.Manager.Cancel(cmd.Context()); err != nil {
				return err
			}
			return printer(cmd).Message("upgrade cancelled")
		},
	}
}

func newWatchCommand(build buildFunc, printer printerFunc) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the admin server upgrade phase",
		Long: `watch prints every upgrade phase change until interrupted. With --wait it
returns once the upgrade has finished and fails if the upgrade failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			p := printer(cmd)

			if wait {
				s, err := c.Manager.Await(ctx, upgrade.PhaseSucceeded, upgrade.PhaseFailed)
				if err != nil {
					return err
				}
				if err := p.Status(s); err != nil {
					return err
				}
				if s.Phase() == upgrade.PhaseFailed {
					return errUpgradeFailed
				}
				return nil
			}

			changes, release := c.Watcher.Subscribe()
			defer release()

			errCh := make(chan error, 1)
			go func() { errCh <- c.Watcher.Start(ctx) }()

			s, err := c.Manager.Status(ctx)
			if err != nil {
				return err
			}
			if err := p.Status(s); err != nil {
				return err
			}

			for {
				select {
				case err := <-errCh:
					if err != nil {
						return fmt.Errorf("watch stopped: %w", err)
					}
					return nil
				case change := <-changes:
					if err := p.Change(change); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the upgrade has succeeded or failed.")
	return cmd
}
