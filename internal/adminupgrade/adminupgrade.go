package adminupgrade

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run serves the API, watches the sentinels and publishes phase changes
// until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.Watcher.Start(ctx) })
	g.Go(func() error { return c.Server.Start(ctx) })
	if c.Notifier != nil {
		g.Go(func() error { return c.Notifier.Start(ctx) })
	}

	c.logger.Info("Admin upgrade controller running", "version", c.Manager.Version())
	return g.Wait()
}
