package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/adminupgrade/internal/node"
	"github.com/autopeer-io/adminupgrade/pkg/log"
	"github.com/autopeer-io/adminupgrade/pkg/ssh"
)

const failedOutput = `Stack: corosync
Online: [ d52-54-00-1 d52-54-00-2 ]

Failed Actions:
* neutron-agents_monitor_10000 on d52-54-00-1 'not running' (7): call=42
* keystone_start_0 on d52-54-00-2 'unknown error' (1): call=17
* third line is cut off
`

type fakeRegistry struct {
	byRole map[string][]*node.Node
	err    error
}

func (f *fakeRegistry) AdminNode(context.Context) (*node.Node, error) { return nil, errors.New("unused") }
func (f *fakeRegistry) Save(context.Context, *node.Node) error        { return errors.New("unused") }
func (f *fakeRegistry) ListByRole(_ context.Context, role string) ([]*node.Node, error) {
	return f.byRole[role], f.err
}

type fakeRunner struct {
	mu      sync.Mutex
	hosts   []string
	results map[string]ssh.Result
	errs    map[string]error
}

func (f *fakeRunner) Run(_ context.Context, host, _ string) (ssh.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts = append(f.hosts, host)
	return f.results[host], f.errs[host]
}

func founders(names ...string) *fakeRegistry {
	var nodes []*node.Node
	for _, n := range names {
		nodes = append(nodes, &node.Node{Name: n, Address: n + ".ip"})
	}
	return &fakeRegistry{byRole: map[string][]*node.Node{"pacemaker-cluster-founder": nodes}}
}

func TestCheck_Healthy(t *testing.T) {
	runner := &fakeRunner{results: map[string]ssh.Result{
		"ctrl1.ip": {Output: "Online: [ ctrl1 ]\n"},
		"ctrl2.ip": {Output: "Online: [ ctrl2 ]\n"},
	}}
	c := NewChecker(founders("ctrl1", "ctrl2"), runner, "pacemaker-cluster-founder", log.NewNopLogger())

	h, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Healthy())
	assert.ElementsMatch(t, []string{"ctrl1.ip", "ctrl2.ip"}, runner.hosts)
}

func TestCheck_NoFounders(t *testing.T) {
	c := NewChecker(founders(), &fakeRunner{}, "pacemaker-cluster-founder", log.NewNopLogger())

	h, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Healthy())
}

func TestCheck_Problems(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]ssh.Result{
			"ctrl1.ip": {Output: failedOutput},
			"ctrl2.ip": {Output: "Could not connect to the CIB: Transport endpoint is not connected\n", ExitStatus: 1},
			"ctrl4.ip": {ExitStatus: 102},
		},
		errs: map[string]error{"ctrl3.ip": errors.New("failed to dial ctrl3.ip:22")},
	}
	c := NewChecker(founders("ctrl1", "ctrl2", "ctrl3", "ctrl4"), runner, "pacemaker-cluster-founder", log.NewNopLogger())

	h, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Healthy())

	assert.Equal(t, map[string]string{
		"ctrl2": "Could not connect to the CIB: Transport endpoint is not connected",
		"ctrl3": "failed to dial ctrl3.ip:22",
		"ctrl4": "crm status exited with 102",
	}, h.CRMFailures)
	assert.Equal(t, map[string]string{
		"ctrl1": "Failed Actions:\n" +
			"* neutron-agents_monitor_10000 on d52-54-00-1 'not running' (7): call=42\n" +
			"* keystone_start_0 on d52-54-00-2 'unknown error' (1): call=17",
	}, h.FailedActions)
}

func TestCheck_RegistryError(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("apiserver down")}
	c := NewChecker(reg, &fakeRunner{}, "pacemaker-cluster-founder", log.NewNopLogger())

	_, err := c.Check(context.Background())
	require.ErrorContains(t, err, "apiserver down")
}

func TestFailedActions(t *testing.T) {
	assert.Empty(t, FailedActions("Online: [ a b ]\n"))
	assert.Equal(t, "Failed Resource Actions:\n* x", FailedActions("Online\nFailed Resource Actions:\n* x\n"))
}
