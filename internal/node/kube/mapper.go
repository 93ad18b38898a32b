package kube

import (
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/autopeer-io/adminupgrade/internal/node"
)

// Label and annotation keys carrying crowbar node attributes.
const (
	RoleLabelPrefix = "role.crowbar.suse.com/"
	AdminLabel      = "crowbar.suse.com/admin"

	TargetPlatformAnnotation    = "crowbar.suse.com/target-platform"
	UpgradeStateAnnotation      = "crowbar.suse.com/upgrade-state"
	ProvisionerAnnotationPrefix = "provisioner.crowbar.suse.com/"
)

// ToModel converts a Node object to a node record.
func ToModel(obj *corev1.Node) *node.Node {
	n := &node.Node{
		Name:           obj.Name,
		Address:        internalAddress(obj),
		Admin:          obj.Labels[AdminLabel] == "true",
		TargetPlatform: obj.Annotations[TargetPlatformAnnotation],
		UpgradeState:   obj.Annotations[UpgradeStateAnnotation],
	}

	for k, v := range obj.Labels {
		if role, ok := strings.CutPrefix(k, RoleLabelPrefix); ok && v == "true" {
			n.Roles = append(n.Roles, role)
		}
	}

	for k, v := range obj.Annotations {
		if key, ok := strings.CutPrefix(k, ProvisionerAnnotationPrefix); ok {
			if n.Provisioner == nil {
				n.Provisioner = make(map[string]string)
			}
			n.Provisioner[key] = v
		}
	}

	return n
}

// Apply writes the mutable fields of n into obj's annotations. Provisioner
// attributes missing from n are removed.
func Apply(n *node.Node, obj *corev1.Node) {
	if obj.Annotations == nil {
		obj.Annotations = make(map[string]string)
	}

	obj.Annotations[TargetPlatformAnnotation] = n.TargetPlatform

	if n.UpgradeState == "" {
		delete(obj.Annotations, UpgradeStateAnnotation)
	} else {
		obj.Annotations[UpgradeStateAnnotation] = n.UpgradeState
	}

	for k := range obj.Annotations {
		if key, ok := strings.CutPrefix(k, ProvisionerAnnotationPrefix); ok {
			if _, keep := n.Provisioner[key]; !keep {
				delete(obj.Annotations, k)
			}
		}
	}
	for k, v := range n.Provisioner {
		obj.Annotations[ProvisionerAnnotationPrefix+k] = v
	}
}

func internalAddress(obj *corev1.Node) string {
	for _, a := range obj.Status.Addresses {
		if a.Type == corev1.NodeInternalIP {
			return a.Address
		}
	}
	for _, a := range obj.Status.Addresses {
		if a.Type == corev1.NodeHostName {
			return a.Address
		}
	}
	return ""
}
