// Package kube stores node records on Kubernetes Node objects.
package kube

import (
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	controllerclient "sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/autopeer-io/adminupgrade/pkg/log"
	"github.com/autopeer-io/adminupgrade/pkg/options"
)

// NewScheme returns the scheme the registry client understands.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	return scheme
}

// NewRestConfig resolves the API server config. An empty kubeconfig path falls
// back to KUBECONFIG, in-cluster config and ~/.kube/config in that order.
func NewRestConfig(opts *options.KubeOptions) (*rest.Config, error) {
	var (
		cfg *rest.Config
		err error
	)
	if opts.KubeConfig == "" {
		cfg, err = config.GetConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", opts.KubeConfig)
	}
	if err != nil {
		return nil, err
	}

	cfg.QPS = opts.QPS
	cfg.Burst = opts.Burst
	cfg.Timeout = opts.Timeout
	return cfg, nil
}

// InitializeClient creates the controller-runtime client backing the registry.
func InitializeClient(opts *options.KubeOptions) (controllerclient.Client, error) {
	cfg, err := NewRestConfig(opts)
	if err != nil {
		log.Error(err, "failed to get kubernetes config")
		return nil, err
	}

	c, err := controllerclient.New(cfg, controllerclient.Options{Scheme: NewScheme()})
	if err != nil {
		log.Error(err, "failed to create kubernetes client")
		return nil, err
	}

	return c, nil
}
