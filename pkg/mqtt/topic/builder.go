package topic

import (
	"fmt"
	"strings"
)

// Topic segments published by the admin upgrade controller.
// Subscribers depend on these values; changing them breaks existing consumers.
const (
	// SuffixPhase carries the retained current upgrade phase.
	// Structure: {root}/upgrade/{node}/phase
	SuffixPhase = "phase"

	// SuffixPresence carries "online" while the controller runs and the "offline" will.
	// Structure: {root}/upgrade/{node}/presence
	SuffixPresence = "presence"

	segmentUpgrade = "upgrade"

	// Wildcard is the single-level wildcard "+".
	Wildcard = "+"
)

// TopicBuilder encapsulates the logic for constructing MQTT topic strings.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "crowbar/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: strings.TrimSuffix(root, "/")}
}

// Phase returns the topic the upgrade phase of node is published on.
func (b *TopicBuilder) Phase(node string) string {
	return b.build(node, SuffixPhase)
}

// PhaseWildcard matches the phase topics of every node.
// Result: {root}/upgrade/+/phase
func (b *TopicBuilder) PhaseWildcard() string {
	return b.build(Wildcard, SuffixPhase)
}

// Presence returns the topic carrying the controller's liveness for node.
func (b *TopicBuilder) Presence(node string) string {
	return b.build(node, SuffixPresence)
}

// build constructs {root}/upgrade/{id}/{suffix}.
func (b *TopicBuilder) build(id, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/%s", b.root, segmentUpgrade, id, suffix)
}
