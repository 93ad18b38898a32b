package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ZypperOptions)(nil)

// ZypperOptions configures the package manager queries behind the prechecks.
type ZypperOptions struct {
	// Zypper is the binary used for patch-check.
	Zypper string `json:"bin" mapstructure:"bin"`
	// ZypperRetry is the lock-retrying wrapper used for the products query.
	ZypperRetry string `json:"retry-bin" mapstructure:"retry-bin"`
	// Sudo is prepended to the products query. Empty runs it directly.
	Sudo string `json:"sudo" mapstructure:"sudo"`

	// Timeout bounds a single package manager invocation.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Products that must be available for the upgrade.
	OSProduct    string `json:"os-product" mapstructure:"os-product"`
	OSVersion    string `json:"os-version" mapstructure:"os-version"`
	CloudProduct string `json:"cloud-product" mapstructure:"cloud-product"`
	CloudVersion string `json:"cloud-version" mapstructure:"cloud-version"`
}

// NewZypperOptions creates a ZypperOptions with the defaults of the target release.
func NewZypperOptions() *ZypperOptions {
	return &ZypperOptions{
		Zypper:       "zypper",
		ZypperRetry:  "/usr/bin/zypper-retry",
		Sudo:         "sudo",
		Timeout:      5 * time.Minute,
		OSProduct:    "SLES",
		OSVersion:    "12.2",
		CloudProduct: "suse-openstack-cloud",
		CloudVersion: "7",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *ZypperOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Zypper == "" || o.ZypperRetry == "" {
		errors = append(errors, fmt.Errorf("--zypper.bin and --zypper.retry-bin must not be empty"))
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("--zypper.timeout must be positive"))
	}
	if o.OSProduct == "" || o.CloudProduct == "" {
		errors = append(errors, fmt.Errorf("--zypper.os-product and --zypper.cloud-product must not be empty"))
	}

	return errors
}

// AddFlags adds flags for ZypperOptions to the specified FlagSet.
func (o *ZypperOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Zypper, "zypper.bin", o.Zypper, "The zypper binary used for patch checks.")
	fs.StringVar(&o.ZypperRetry, "zypper.retry-bin", o.ZypperRetry, "The zypper-retry wrapper used for the products query.")
	fs.StringVar(&o.Sudo, "zypper.sudo", o.Sudo, "Privilege escalation command for the products query. Empty runs it directly.")
	fs.DurationVar(&o.Timeout, "zypper.timeout", o.Timeout, "Timeout for a single zypper invocation.")
	fs.StringVar(&o.OSProduct, "zypper.os-product", o.OSProduct, "Name of the operating system product the upgrade targets.")
	fs.StringVar(&o.OSVersion, "zypper.os-version", o.OSVersion, "Version of the operating system product the upgrade targets.")
	fs.StringVar(&o.CloudProduct, "zypper.cloud-product", o.CloudProduct, "Name of the cloud product the upgrade targets.")
	fs.StringVar(&o.CloudVersion, "zypper.cloud-version", o.CloudVersion, "Version of the cloud product the upgrade targets.")
}
