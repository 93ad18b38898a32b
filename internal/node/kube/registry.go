package kube

import (
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/autopeer-io/adminupgrade/internal/node"
	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
)

// Registry implements node.Registry on cluster-scoped Node objects.
type Registry struct {
	client    client.Client
	adminName string
}

var _ node.Registry = (*Registry)(nil)

// NewRegistry creates a Registry. An empty adminName selects the node
// labelled as admin.
func NewRegistry(c client.Client, adminName string) *Registry {
	return &Registry{client: c, adminName: adminName}
}

func (r *Registry) AdminNode(ctx context.Context) (*node.Node, error) {
	if r.adminName != "" {
		obj := &corev1.Node{}
		if err := r.client.Get(ctx, types.NamespacedName{Name: r.adminName}, obj); err != nil {
			if apierrors.IsNotFound(err) {
				return nil, fmt.Errorf("admin node %q: %w", r.adminName, util.ErrNotFound)
			}
			return nil, err
		}
		return ToModel(obj), nil
	}

	list := &corev1.NodeList{}
	if err := r.client.List(ctx, list, client.MatchingLabels{AdminLabel: "true"}); err != nil {
		return nil, err
	}
	switch len(list.Items) {
	case 0:
		return nil, fmt.Errorf("admin node: %w", util.ErrNotFound)
	case 1:
		return ToModel(&list.Items[0]), nil
	default:
		return nil, fmt.Errorf("found %d nodes labelled %s", len(list.Items), AdminLabel)
	}
}

func (r *Registry) ListByRole(ctx context.Context, role string) ([]*node.Node, error) {
	list := &corev1.NodeList{}
	if err := r.client.List(ctx, list, client.MatchingLabels{RoleLabelPrefix + role: "true"}); err != nil {
		return nil, err
	}
	return toModels(list), nil
}

func (r *Registry) list(ctx context.Context) ([]*node.Node, error) {
	list := &corev1.NodeList{}
	if err := r.client.List(ctx, list); err != nil {
		return nil, err
	}
	return toModels(list), nil
}

// Save patches the node's annotations, retrying on write conflicts.
func (r *Registry) Save(ctx context.Context, n *node.Node) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		obj := &corev1.Node{}
		if err := r.client.Get(ctx, types.NamespacedName{Name: n.Name}, obj); err != nil {
			if apierrors.IsNotFound(err) {
				return fmt.Errorf("node %q: %w", n.Name, util.ErrNotFound)
			}
			return err
		}

		patch := client.MergeFromWithOptions(obj.DeepCopy(), client.MergeFromWithOptimisticLock{})
		Apply(n, obj)
		return r.client.Patch(ctx, obj, patch)
	})
}

func toModels(list *corev1.NodeList) []*node.Node {
	out := make([]*node.Node, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, ToModel(&list.Items[i]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
