// Package precheck evaluates whether the admin node upgrade can start safely.
//
// Every check is read-only and independent. A check failing is a normal
// outcome reported as false; errors are reserved for infrastructure failures.
// The evaluator never blocks an upgrade on its own, callers decide.
package precheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/adminupgrade/internal/cluster"
	"github.com/autopeer-io/adminupgrade/internal/node"
	"github.com/autopeer-io/adminupgrade/internal/pkg/metrics"
	"github.com/autopeer-io/adminupgrade/internal/zypper"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

// Check names used as report keys.
const (
	MaintenanceUpdates = "maintenance_updates_installed"
	Repositories       = "repositories"
	ClustersHealthy    = "clusters_healthy"
	ComputeResources   = "compute_resources_available"
)

// Checks lists every check in report order.
var Checks = []string{MaintenanceUpdates, Repositories, ClustersHealthy, ComputeResources}

// Result is the outcome of a single check.
type Result struct {
	Passed  bool   `json:"passed"`
	Details any    `json:"details,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report maps check names to their results.
type Report map[string]Result

// Passed reports whether every check passed.
func (r Report) Passed() bool {
	for _, res := range r {
		if !res.Passed {
			return false
		}
	}
	return len(r) > 0
}

// Availability tells whether a product is offered by the repositories.
type Availability struct {
	Available bool `json:"available"`
}

// RepoReport is the outcome of the repository check.
type RepoReport struct {
	OS    Availability `json:"os"`
	Cloud Availability `json:"cloud"`
}

// Product identifies a package manager product.
type Product struct {
	Name    string
	Version string
}

// PackageManager answers the package queries.
type PackageManager interface {
	PatchCheck(ctx context.Context) (zypper.PatchState, error)
	Products(ctx context.Context) (zypper.Products, error)
}

// HealthChecker reports pacemaker cluster problems.
type HealthChecker interface {
	Check(ctx context.Context) (*cluster.Health, error)
}

// NodeLister finds nodes by role.
type NodeLister interface {
	ListByRole(ctx context.Context, role string) ([]*node.Node, error)
}

// Config wires an Evaluator.
type Config struct {
	Packages    PackageManager
	Health      HealthChecker
	Nodes       NodeLister
	OSProduct   Product
	Cloud       Product
	ComputeRole string
	Logger      log.Logger
}

// Evaluator runs the prechecks.
type Evaluator struct {
	packages    PackageManager
	health      HealthChecker
	nodes       NodeLister
	osProduct   Product
	cloud       Product
	computeRole string
	logger      log.Logger
}

// NewEvaluator creates an Evaluator from cfg.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{
		packages:    cfg.Packages,
		health:      cfg.Health,
		nodes:       cfg.Nodes,
		osProduct:   cfg.OSProduct,
		cloud:       cfg.Cloud,
		computeRole: cfg.ComputeRole,
		logger:      log.OrStd(cfg.Logger).WithName("precheck"),
	}
}

// MaintenanceUpdatesInstalled reports whether no maintenance or security
// patches are pending.
func (e *Evaluator) MaintenanceUpdatesInstalled(ctx context.Context) (bool, error) {
	state, err := e.packages.PatchCheck(ctx)
	if err != nil {
		return false, err
	}
	return state == zypper.PatchesInstalled, nil
}

// RepoCheck reports whether the target OS and cloud products are available.
// A locked package manager yields util.ErrPackageManagerLocked.
func (e *Evaluator) RepoCheck(ctx context.Context) (*RepoReport, error) {
	products, err := e.packages.Products(ctx)
	if err != nil {
		return nil, err
	}
	return &RepoReport{
		OS:    Availability{Available: products.Has(e.osProduct.Name, e.osProduct.Version)},
		Cloud: Availability{Available: products.Has(e.cloud.Name, e.cloud.Version)},
	}, nil
}

// ClustersHealthy reports whether every pacemaker cluster is free of problems.
func (e *Evaluator) ClustersHealthy(ctx context.Context) (bool, error) {
	h, err := e.clusterHealth(ctx)
	if err != nil {
		return false, err
	}
	return h.Healthy(), nil
}

func (e *Evaluator) clusterHealth(ctx context.Context) (*cluster.Health, error) {
	h, err := e.health.Check(ctx)
	if err != nil {
		return nil, err
	}
	if !h.Healthy() {
		e.logger.Warn("HA clusters report some problems")
		for n, msg := range h.CRMFailures {
			e.logger.Warn(fmt.Sprintf("crm status at node %s reports error:\n%s", n, msg), "node", n)
		}
		for n, msg := range h.FailedActions {
			e.logger.Warn(fmt.Sprintf("crm at node %s reports some failed actions:\n%s", n, msg), "node", n)
		}
	}
	return h, nil
}

// ComputeResourcesAvailable reports whether the compute nodes allow a
// non-disruptive upgrade. Exactly one compute node does not; none or several do.
func (e *Evaluator) ComputeResourcesAvailable(ctx context.Context) (bool, error) {
	n, err := e.computeNodes(ctx)
	if err != nil {
		return false, err
	}
	return n != 1, nil
}

func (e *Evaluator) computeNodes(ctx context.Context) (int, error) {
	nodes, err := e.nodes.ListByRole(ctx, e.computeRole)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s nodes: %w", e.computeRole, err)
	}
	if len(nodes) == 1 {
		e.logger.Warn("Only one compute node found; non-disruptive upgrade is not possible!", "node", nodes[0].Name)
	}
	return len(nodes), nil
}

// Run evaluates all checks concurrently. The report always holds an entry per
// check; the returned error aggregates infrastructure failures.
func (e *Evaluator) Run(ctx context.Context) (Report, error) {
	type check func(ctx context.Context) (bool, any, error)

	checks := map[string]check{
		MaintenanceUpdates: func(ctx context.Context) (bool, any, error) {
			state, err := e.packages.PatchCheck(ctx)
			if err != nil {
				return false, nil, err
			}
			return state == zypper.PatchesInstalled, map[string]string{"state": string(state)}, nil
		},
		Repositories: func(ctx context.Context) (bool, any, error) {
			r, err := e.RepoCheck(ctx)
			if err != nil {
				return false, nil, err
			}
			return r.OS.Available && r.Cloud.Available, r, nil
		},
		ClustersHealthy: func(ctx context.Context) (bool, any, error) {
			h, err := e.clusterHealth(ctx)
			if err != nil {
				return false, nil, err
			}
			return h.Healthy(), h, nil
		},
		ComputeResources: func(ctx context.Context) (bool, any, error) {
			n, err := e.computeNodes(ctx)
			if err != nil {
				return false, nil, err
			}
			return n != 1, map[string]int{"compute_nodes": n}, nil
		},
	}

	var (
		mu     sync.Mutex
		report = make(Report, len(checks))
		errs   []error
	)

	var g errgroup.Group
	for _, name := range Checks {
		fn := checks[name]
		g.Go(func() error {
			start := time.Now()
			passed, details, err := fn(ctx)
			metrics.PrecheckDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

			res := Result{Passed: passed, Details: details}
			outcome := metrics.ResultFailed
			switch {
			case err != nil:
				res.Error = err.Error()
				outcome = metrics.ResultError
				e.logger.Error(err, "Precheck could not be evaluated", "check", name)
			case passed:
				outcome = metrics.ResultPassed
			}
			metrics.PrecheckResultsTotal.WithLabelValues(name, outcome).Inc()

			mu.Lock()
			defer mu.Unlock()
			report[name] = res
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return report, utilerrors.NewAggregate(errs)
}

