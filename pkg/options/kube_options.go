package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*KubeOptions)(nil)

// KubeOptions contains configuration for the Kubernetes-backed node registry.
type KubeOptions struct {
	// KubeConfig is the path to the kubeconfig file.
	// If empty, it defaults to in-cluster config or standard KUBECONFIG env.
	KubeConfig string `json:"kubeconfig" mapstructure:"kubeconfig"`

	// QPS and Burst throttle requests to the API server.
	QPS   float32 `json:"qps" mapstructure:"qps"`
	Burst int     `json:"burst" mapstructure:"burst"`

	// Timeout bounds a single API request.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewKubeOptions creates a new KubeOptions with default values.
func NewKubeOptions() *KubeOptions {
	return &KubeOptions{
		KubeConfig: "", // Default to empty, letting client-go resolve it automatically
		QPS:        20,
		Burst:      30,
		Timeout:    30 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *KubeOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.QPS <= 0 {
		errors = append(errors, fmt.Errorf("--kube.qps must be positive, got %v", o.QPS))
	}
	if o.Burst < 1 {
		errors = append(errors, fmt.Errorf("--kube.burst must be at least 1, got %d", o.Burst))
	}

	return errors
}

// AddFlags adds flags for KubeOptions to the specified FlagSet.
func (o *KubeOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.KubeConfig, "kube.kubeconfig", o.KubeConfig, "Path to kubeconfig file with authorization and master location information.")
	fs.Float32Var(&o.QPS, "kube.qps", o.QPS, "Maximum queries per second to the Kubernetes API server.")
	fs.IntVar(&o.Burst, "kube.burst", o.Burst, "Maximum burst of queries to the Kubernetes API server.")
	fs.DurationVar(&o.Timeout, "kube.timeout", o.Timeout, "Timeout for a single Kubernetes API request.")
}
