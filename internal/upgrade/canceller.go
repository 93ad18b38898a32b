package upgrade

import (
	"context"
	"fmt"

	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
	"github.com/autopeer-io/adminupgrade/internal/upgrade/sentinel"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

// Reverter undoes the node preparation for the upgrade.
type Reverter interface {
	Revert(ctx context.Context) error
}

// Canceller aborts an upgrade.
type Canceller struct {
	store    sentinel.Store
	reverter Reverter
	logger   log.Logger
}

// NewCanceller creates a Canceller.
func NewCanceller(store sentinel.Store, reverter Reverter, logger log.Logger) *Canceller {
	return &Canceller{
		store:    store,
		reverter: reverter,
		logger:   log.OrStd(logger).WithName("canceller"),
	}
}

// Cancel reverts the nodes and then clears the upgrading sentinel. If the
// revert fails the sentinel is left in place.
func (c *Canceller) Cancel(ctx context.Context) error {
	if err := c.reverter.Revert(ctx); err != nil {
		err = fmt.Errorf("%w: failed to revert nodes from upgrade: %w", util.ErrNodeMutationFailed, err)
		c.logger.Error(err, "Cancel aborted, upgrade state unchanged")
		return err
	}

	if err := sentinel.ClearUpgrading(c.store); err != nil {
		c.logger.Error(err, "Failed to clear the upgrading sentinel")
		return err
	}

	c.logger.Info("Admin server upgrade cancelled")
	return nil
}
