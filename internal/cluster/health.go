// Package cluster checks the health of the pacemaker clusters by running
// crm on every cluster founder.
package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/adminupgrade/internal/node"
	"github.com/autopeer-io/adminupgrade/pkg/log"
	"github.com/autopeer-io/adminupgrade/pkg/ssh"
)

const (
	crmStatusCommand = "crm status 2>&1"
	failedActions    = "Failed Actions:"
	failedResource   = "Failed Resource Actions:"

	// failedActionsContext is the number of lines kept after the header.
	failedActionsContext = 2
	maxParallel          = 8
)

// Health maps node names to problem reports. Empty maps mean healthy.
type Health struct {
	CRMFailures   map[string]string `json:"crm_failures,omitempty"`
	FailedActions map[string]string `json:"failed_actions,omitempty"`
}

// Healthy reports whether no node reported a problem.
func (h *Health) Healthy() bool {
	return len(h.CRMFailures) == 0 && len(h.FailedActions) == 0
}

// Runner runs one command on a host.
type Runner interface {
	Run(ctx context.Context, host, command string) (ssh.Result, error)
}

// Checker queries every node holding the founder role.
type Checker struct {
	registry    node.Registry
	runner      Runner
	founderRole string
	logger      log.Logger
}

// NewChecker creates a Checker.
func NewChecker(registry node.Registry, runner Runner, founderRole string, logger log.Logger) *Checker {
	return &Checker{
		registry:    registry,
		runner:      runner,
		founderRole: founderRole,
		logger:      log.OrStd(logger).WithName("cluster-health"),
	}
}

// Check runs crm status on every founder. Unreachable nodes and non-zero
// exits are reported as crm failures; only a failed founder lookup is an error.
func (c *Checker) Check(ctx context.Context) (*Health, error) {
	founders, err := c.registry.ListByRole(ctx, c.founderRole)
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster founders: %w", err)
	}

	var (
		mu     sync.Mutex
		health = &Health{
			CRMFailures:   map[string]string{},
			FailedActions: map[string]string{},
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, n := range founders {
		g.Go(func() error {
			crmErr, actions := c.checkNode(gctx, n)

			mu.Lock()
			defer mu.Unlock()
			if crmErr != "" {
				health.CRMFailures[n.Name] = crmErr
			}
			if actions != "" {
				health.FailedActions[n.Name] = actions
			}
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Debug("Cluster health checked", "founders", len(founders),
		"crmFailures", len(health.CRMFailures), "failedActions", len(health.FailedActions))
	return health, nil
}

func (c *Checker) checkNode(ctx context.Context, n *node.Node) (crmErr, actions string) {
	host := n.Address
	if host == "" {
		host = n.Name
	}

	res, err := c.runner.Run(ctx, host, crmStatusCommand)
	if err != nil {
		return err.Error(), ""
	}
	if res.ExitStatus != 0 {
		out := strings.TrimSpace(res.Output)
		if out == "" {
			out = fmt.Sprintf("crm status exited with %d", res.ExitStatus)
		}
		return out, ""
	}
	return "", FailedActions(res.Output)
}

// FailedActions extracts the failed actions section of crm status output:
// the header line and the two lines following it.
func FailedActions(output string) string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, failedActions) && !strings.HasPrefix(trimmed, failedResource) {
			continue
		}
		end := min(i+1+failedActionsContext, len(lines))
		return strings.TrimRight(strings.Join(lines[i:end], "\n"), "\n ")
	}
	return ""
}
