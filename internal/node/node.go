// Package node models the cluster nodes the admin upgrade touches.
package node

import (
	"context"
	"maps"
	"slices"
)

// DefaultOSKey is the provisioner attribute pinning the OS a node is installed with.
const DefaultOSKey = "default_os"

// UpgradeStateCrowbar marks a node whose admin server is being upgraded.
const UpgradeStateCrowbar = "crowbar_upgrade"

// Node is a registry record.
type Node struct {
	Name    string   `json:"name"`
	Address string   `json:"address,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Admin   bool     `json:"admin"`

	// TargetPlatform is the platform the node is deployed with next.
	TargetPlatform string `json:"target_platform"`
	// Provisioner holds provisioner attributes such as default_os.
	Provisioner map[string]string `json:"provisioner,omitempty"`

	// UpgradeState is set on every non-admin node while the admin server upgrades.
	UpgradeState string `json:"upgrade_state,omitempty"`
}

// HasRole reports whether the node is assigned role.
func (n *Node) HasRole(role string) bool {
	return slices.Contains(n.Roles, role)
}

// ClearPlatform drops the platform pins so the node picks up the new OS after
// the admin server upgrade.
func (n *Node) ClearPlatform() {
	n.TargetPlatform = ""
	delete(n.Provisioner, DefaultOSKey)
}

// DeepCopy returns an independent copy of n.
func (n *Node) DeepCopy() *Node {
	if n == nil {
		return nil
	}
	out := *n
	out.Roles = slices.Clone(n.Roles)
	out.Provisioner = maps.Clone(n.Provisioner)
	return &out
}

// Registry reads and writes node records.
type Registry interface {
	// AdminNode returns the admin node record.
	AdminNode(ctx context.Context) (*Node, error)

	// ListByRole returns every node assigned role.
	ListByRole(ctx context.Context, role string) ([]*Node, error)

	// Save persists the mutable fields of n.
	Save(ctx context.Context, n *Node) error
}

// Preparer moves the non-admin nodes in and out of the admin upgrade state.
type Preparer interface {
	// Prepare marks every non-admin node as waiting for the admin upgrade.
	Prepare(ctx context.Context) error

	// Revert undoes Prepare.
	Revert(ctx context.Context) error
}
