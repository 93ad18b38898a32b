package options

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/adminupgrade/internal/adminupgrade"
	"github.com/autopeer-io/adminupgrade/pkg/log"
	genericoptions "github.com/autopeer-io/adminupgrade/pkg/options"
)

const (
	// EnvPrefix prefixes every environment override, e.g. ADMIN_UPGRADE_UPGRADE_STATE_DIR.
	EnvPrefix = "ADMIN_UPGRADE"

	// VersionEnv supplies the reported version when none is configured.
	VersionEnv = "CROWBAR_VERSION"
)

// AdminUpgradeOptions holds every option of the admin upgrade controller.
type AdminUpgradeOptions struct {
	UpgradeOptions *genericoptions.UpgradeOptions `json:"upgrade" mapstructure:"upgrade"`
	ZypperOptions  *genericoptions.ZypperOptions  `json:"zypper" mapstructure:"zypper"`
	KubeOptions    *genericoptions.KubeOptions    `json:"kube" mapstructure:"kube"`
	SSHOptions     *genericoptions.SSHOptions     `json:"ssh" mapstructure:"ssh"`
	HttpOptions    *genericoptions.HttpOptions    `json:"http" mapstructure:"http"`
	MqttOptions    *genericoptions.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	LogOptions     *log.Options                   `json:"log" mapstructure:"log"`

	// ConfigFile is an optional YAML or JSON file merged under the flags.
	ConfigFile string `json:"-" mapstructure:"-"`
}

// NewAdminUpgradeOptions creates options with the crowbar defaults.
func NewAdminUpgradeOptions() *AdminUpgradeOptions {
	return &AdminUpgradeOptions{
		UpgradeOptions: genericoptions.NewUpgradeOptions(),
		ZypperOptions:  genericoptions.NewZypperOptions(),
		KubeOptions:    genericoptions.NewKubeOptions(),
		SSHOptions:     genericoptions.NewSSHOptions(),
		HttpOptions:    genericoptions.NewHttpOptions(),
		MqttOptions:    genericoptions.NewMqttOptions(),
		LogOptions:     log.NewOptions(),
	}
}

// Flags returns the flags grouped by concern.
func (o *AdminUpgradeOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.UpgradeOptions.AddFlags(fss.FlagSet("upgrade"))
	o.ZypperOptions.AddFlags(fss.FlagSet("zypper"))
	o.KubeOptions.AddFlags(fss.FlagSet("kube"))
	o.SSHOptions.AddFlags(fss.FlagSet("ssh"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))

	fs := fss.FlagSet("misc")
	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Path to a YAML or JSON configuration file. Flags take precedence.")

	return fss
}

// Load merges the config file and the environment into o. Flags set on the
// command line win over both.
func (o *AdminUpgradeOptions) Load(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || !strings.Contains(f.Name, ".") {
			return
		}
		_ = v.BindPFlag(f.Name, f)
	})

	if o.ConfigFile != "" {
		v.SetConfigFile(o.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", o.ConfigFile, err)
		}
	}

	if err := v.Unmarshal(o); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}

	if o.UpgradeOptions.Version == "" {
		o.UpgradeOptions.Version = os.Getenv(VersionEnv)
	}
	return nil
}

// Validate checks every option group.
func (o *AdminUpgradeOptions) Validate() error {
	var errs []error
	errs = append(errs, o.UpgradeOptions.Validate()...)
	errs = append(errs, o.ZypperOptions.Validate()...)
	errs = append(errs, o.KubeOptions.Validate()...)
	errs = append(errs, o.SSHOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	return utilerrors.NewAggregate(errs)
}

// Config builds the controller configuration.
func (o *AdminUpgradeOptions) Config() *adminupgrade.Config {
	return &adminupgrade.Config{
		UpgradeOptions: o.UpgradeOptions,
		ZypperOptions:  o.ZypperOptions,
		KubeOptions:    o.KubeOptions,
		SSHOptions:     o.SSHOptions,
		HttpOptions:    o.HttpOptions,
		MqttOptions:    o.MqttOptions,
	}
}
