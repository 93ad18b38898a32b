// Package notifier publishes admin node upgrade phase changes to MQTT.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/autopeer-io/adminupgrade/internal/upgrade"
	"github.com/autopeer-io/adminupgrade/pkg/log"
	pkgmqtt "github.com/autopeer-io/adminupgrade/pkg/mqtt"
	"github.com/autopeer-io/adminupgrade/pkg/mqtt/topic"
	"github.com/autopeer-io/adminupgrade/pkg/options"
)

// Presence payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// phaseQoS is used for both phase and presence messages. All are retained so
// late subscribers see the current value.
const phaseQoS = 1

const stopTimeout = 3 * time.Second

// Message is the retained payload on the phase topic.
type Message struct {
	Node string `json:"node"`
	upgrade.PhaseChange
}

// MQTTNotifier publishes the upgrade phase of one admin node.
type MQTTNotifier struct {
	client pkgmqtt.Client
	topics *topic.TopicBuilder
	node   string
	logger log.Logger

	mu   sync.Mutex
	last *upgrade.PhaseChange
}

var _ upgrade.Notifier = (*MQTTNotifier)(nil)

// NewMQTTNotifier creates a notifier from opts. It returns nil when no broker
// is configured. The broker publishes Offline on the presence topic if the
// connection is lost.
func NewMQTTNotifier(opts *options.MqttOptions, node string, logger log.Logger) (*MQTTNotifier, error) {
	if !opts.Enabled() {
		return nil, nil
	}

	topics := topic.NewTopicBuilder(opts.TopicRoot)
	cfg := opts.ToClientConfig()
	if cfg.ClientID == "" {
		hostname, _ := os.Hostname()
		cfg.ClientID = fmt.Sprintf("admin-upgrade-%s", hostname)
	}
	cfg.WillTopic = topics.Presence(node)
	cfg.WillPayload = []byte(Offline)
	cfg.WillQoS = phaseQoS
	cfg.WillRetain = true
	cfg.Logger = logger

	client, err := pkgmqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return New(client, topics, node, logger), nil
}

// New creates a notifier publishing through client.
func New(client pkgmqtt.Client, topics *topic.TopicBuilder, node string, logger log.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		topics: topics,
		node:   node,
		logger: log.OrStd(logger).WithName("notifier"),
	}
}

// Start connects to the broker and runs until ctx is done. Once connected it
// announces Online and republishes the last phase change.
func (n *MQTTNotifier) Start(ctx context.Context) error {
	if err := n.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt client: %w", err)
	}

	if err := n.client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if err := n.client.Publish(ctx, n.topics.Presence(n.node), phaseQoS, true, []byte(Online)); err != nil {
		n.logger.Error(err, "Failed to announce presence")
	}

	n.mu.Lock()
	last := n.last
	n.mu.Unlock()
	if last != nil {
		if err := n.publish(ctx, *last); err != nil {
			n.logger.Error(err, "Failed to republish upgrade phase", "phase", last.To)
		}
	}

	<-ctx.Done()

	stop, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := n.client.Publish(stop, n.topics.Presence(n.node), phaseQoS, true, []byte(Offline)); err != nil {
		n.logger.Warn("Failed to announce shutdown", "error", err)
	}
	n.client.Disconnect(stop)
	return nil
}

// Notify publishes change on the phase topic. Changes seen while disconnected
// are kept and published once the connection is up.
func (n *MQTTNotifier) Notify(ctx context.Context, change upgrade.PhaseChange) error {
	n.mu.Lock()
	n.last = &change
	n.mu.Unlock()

	if !n.client.IsConnected() {
		n.logger.Debug("MQTT not connected, deferring phase notification", "phase", change.To)
		return nil
	}
	return n.publish(ctx, change)
}

func (n *MQTTNotifier) publish(ctx context.Context, change upgrade.PhaseChange) error {
	payload, err := json.Marshal(Message{Node: n.node, PhaseChange: change})
	if err != nil {
		return err
	}

	t := n.topics.Phase(n.node)
	if err := n.client.Publish(ctx, t, phaseQoS, true, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", t, err)
	}
	n.logger.Debug("Published upgrade phase", "topic", t, "phase", change.To)
	return nil
}
