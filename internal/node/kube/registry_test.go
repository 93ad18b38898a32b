package kube

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/autopeer-io/adminupgrade/internal/node"
	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

func newNode(name string, admin bool, roles ...string) *corev1.Node {
	obj := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Labels:      map[string]string{},
			Annotations: map[string]string{},
		},
		Status: corev1.NodeStatus{
			Addresses: []corev1.NodeAddress{
				{Type: corev1.NodeHostName, Address: name + ".crowbar"},
				{Type: corev1.NodeInternalIP, Address: "192.168.124.10"},
			},
		},
	}
	if admin {
		obj.Labels[AdminLabel] = "true"
	}
	for _, r := range roles {
		obj.Labels[RoleLabelPrefix+r] = "true"
	}
	return obj
}

func adminNode() *corev1.Node {
	obj := newNode("crowbar", true)
	obj.Annotations[TargetPlatformAnnotation] = "suse-12.1"
	obj.Annotations[ProvisionerAnnotationPrefix+node.DefaultOSKey] = "suse-12.1"
	obj.Annotations[ProvisionerAnnotationPrefix+"root_password_hash"] = "x"
	return obj
}

func newClient(objs ...client.Object) client.Client {
	return fake.NewClientBuilder().WithScheme(NewScheme()).WithObjects(objs...).Build()
}

func TestToModel(t *testing.T) {
	n := ToModel(adminNode())

	assert.Equal(t, "crowbar", n.Name)
	assert.True(t, n.Admin)
	assert.Equal(t, "192.168.124.10", n.Address)
	assert.Equal(t, "suse-12.1", n.TargetPlatform)
	assert.Equal(t, map[string]string{node.DefaultOSKey: "suse-12.1", "root_password_hash": "x"}, n.Provisioner)

	c := ToModel(newNode("c1", false, "nova-compute-kvm"))
	assert.True(t, c.HasRole("nova-compute-kvm"))
	assert.False(t, c.Admin)
	assert.Nil(t, c.Provisioner)
}

func TestRegistry_AdminNode(t *testing.T) {
	ctx := context.Background()

	r := NewRegistry(newClient(adminNode(), newNode("c1", false)), "")
	n, err := r.AdminNode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "crowbar", n.Name)

	r = NewRegistry(newClient(adminNode()), "crowbar")
	n, err = r.AdminNode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "crowbar", n.Name)

	r = NewRegistry(newClient(newNode("c1", false)), "")
	_, err = r.AdminNode(ctx)
	assert.ErrorIs(t, err, util.ErrNotFound)

	r = NewRegistry(newClient(), "crowbar")
	_, err = r.AdminNode(ctx)
	assert.ErrorIs(t, err, util.ErrNotFound)

	r = NewRegistry(newClient(newNode("a1", true), newNode("a2", true)), "")
	_, err = r.AdminNode(ctx)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, util.ErrNotFound)
}

func TestRegistry_ListByRole(t *testing.T) {
	r := NewRegistry(newClient(
		adminNode(),
		newNode("c2", false, "nova-compute-kvm"),
		newNode("c1", false, "nova-compute-kvm", "ceph-osd"),
		newNode("s1", false, "ceph-osd"),
	), "")

	nodes, err := r.ListByRole(context.Background(), "nova-compute-kvm")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "c1", nodes[0].Name)
	assert.Equal(t, "c2", nodes[1].Name)

	nodes, err = r.ListByRole(context.Background(), "nova-compute-xen")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestRegistry_SaveClearsPlatform(t *testing.T) {
	ctx := context.Background()
	c := newClient(adminNode())
	r := NewRegistry(c, "")

	n, err := r.AdminNode(ctx)
	require.NoError(t, err)
	n.ClearPlatform()
	require.NoError(t, r.Save(ctx, n))

	obj := &corev1.Node{}
	require.NoError(t, c.Get(ctx, types.NamespacedName{Name: "crowbar"}, obj))
	assert.Equal(t, "", obj.Annotations[TargetPlatformAnnotation])
	assert.NotContains(t, obj.Annotations, ProvisionerAnnotationPrefix+node.DefaultOSKey)
	assert.Equal(t, "x", obj.Annotations[ProvisionerAnnotationPrefix+"root_password_hash"])
}

func TestRegistry_SaveMissingNode(t *testing.T) {
	r := NewRegistry(newClient(), "")
	err := r.Save(context.Background(), &node.Node{Name: "ghost"})
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestPreparer(t *testing.T) {
	ctx := context.Background()
	c := newClient(adminNode(), newNode("c1", false, "nova-compute-kvm"), newNode("c2", false))
	r := NewRegistry(c, "")
	p := NewPreparer(r, log.NewNopLogger())

	require.NoError(t, p.Prepare(ctx))

	state := func(name string) string {
		obj := &corev1.Node{}
		require.NoError(t, c.Get(ctx, types.NamespacedName{Name: name}, obj))
		return obj.Annotations[UpgradeStateAnnotation]
	}
	assert.Equal(t, node.UpgradeStateCrowbar, state("c1"))
	assert.Equal(t, node.UpgradeStateCrowbar, state("c2"))
	assert.Empty(t, state("crowbar"))

	require.NoError(t, p.Revert(ctx))
	assert.Empty(t, state("c1"))
	assert.Empty(t, state("c2"))
}

func TestPreparer_PartialFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("apiserver unavailable")
	c := fake.NewClientBuilder().
		WithScheme(NewScheme()).
		WithObjects(adminNode(), newNode("c1", false), newNode("c2", false)).
		WithInterceptorFuncs(interceptor.Funcs{
			Patch: func(ctx context.Context, cl client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
				if obj.GetName() == "c1" {
					return boom
				}
				return cl.Patch(ctx, obj, patch, opts...)
			},
		}).
		Build()
	p := NewPreparer(NewRegistry(c, ""), log.NewNopLogger())

	err := p.Prepare(ctx)
	require.ErrorIs(t, err, util.ErrNodeMutationFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "node_mutation_failed", util.Kind(err))
	assert.Contains(t, err.Error(), "node c1")

	obj := &corev1.Node{}
	require.NoError(t, c.Get(ctx, types.NamespacedName{Name: "c2"}, obj))
	assert.Equal(t, node.UpgradeStateCrowbar, obj.Annotations[UpgradeStateAnnotation])
}
