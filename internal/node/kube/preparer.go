package kube

import (
	"context"
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/adminupgrade/internal/node"
	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

// Preparer flags every non-admin node while the admin server upgrades.
type Preparer struct {
	registry *Registry
	logger   log.Logger
}

var _ node.Preparer = (*Preparer)(nil)

// NewPreparer creates a Preparer writing through registry.
func NewPreparer(registry *Registry, logger log.Logger) *Preparer {
	return &Preparer{registry: registry, logger: log.OrStd(logger).WithName("node-preparer")}
}

func (p *Preparer) Prepare(ctx context.Context) error {
	return p.setState(ctx, node.UpgradeStateCrowbar)
}

func (p *Preparer) Revert(ctx context.Context) error {
	return p.setState(ctx, "")
}

// setState moves every non-admin node to state. Failures on single nodes do
// not stop the others; they are returned together.
func (p *Preparer) setState(ctx context.Context, state string) error {
	nodes, err := p.registry.list(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to list nodes: %w", util.ErrNodeMutationFailed, err)
	}

	var errs []error
	changed := 0
	for _, n := range nodes {
		if n.Admin || n.UpgradeState == state {
			continue
		}
		n.UpgradeState = state
		if err := p.registry.Save(ctx, n); err != nil {
			p.logger.Error(err, "Failed to update node upgrade state", "node", n.Name, "state", state)
			errs = append(errs, fmt.Errorf("node %s: %w", n.Name, err))
			continue
		}
		changed++
	}

	p.logger.Info("Updated node upgrade state", "state", state, "changed", changed, "failed", len(errs))
	if err := utilerrors.NewAggregate(errs); err != nil {
		return fmt.Errorf("%w: %w", util.ErrNodeMutationFailed, err)
	}
	return nil
}
