package options

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*UpgradeOptions)(nil)

// UpgradeOptions configures the sentinel layout, the upgrade script and the watcher.
type UpgradeOptions struct {
	// Version is the version reported alongside the upgrade state.
	Version string `json:"version" mapstructure:"version"`

	// StateDir is the single base directory holding every sentinel file.
	StateDir      string `json:"state-dir" mapstructure:"state-dir"`
	UpgradingFile string `json:"upgrading-file" mapstructure:"upgrading-file"`
	SucceededFile string `json:"succeeded-file" mapstructure:"succeeded-file"`
	FailedFile    string `json:"failed-file" mapstructure:"failed-file"`

	// Script is the absolute path of the admin server upgrade script.
	Script string `json:"script" mapstructure:"script"`
	// Sudo is prepended to the script invocation. Empty runs it directly.
	Sudo string `json:"sudo" mapstructure:"sudo"`
	// ScriptLog receives the detached script's stdout and stderr.
	ScriptLog string `json:"script-log" mapstructure:"script-log"`

	// AdminNode names the admin node in the node registry. Empty selects the
	// node carrying the admin label.
	AdminNode string `json:"admin-node" mapstructure:"admin-node"`

	// ComputeRole is the node role counted by the compute resources check.
	ComputeRole string `json:"compute-role" mapstructure:"compute-role"`

	// ResyncPeriod forces a full sentinel re-read even without fs events.
	ResyncPeriod time.Duration `json:"resync-period" mapstructure:"resync-period"`
}

// NewUpgradeOptions creates an UpgradeOptions with the crowbar defaults.
func NewUpgradeOptions() *UpgradeOptions {
	return &UpgradeOptions{
		StateDir:      "/var/lib/crowbar/install",
		UpgradingFile: "admin_server_upgrading",
		SucceededFile: "admin-server-upgraded-ok",
		FailedFile:    "admin-server-upgrade-failed",
		Script:        "/opt/dell/bin/upgrade_admin_server.sh",
		Sudo:          "sudo",
		ScriptLog:     "/var/log/crowbar/admin-server-upgrade.log",
		ComputeRole:   "nova-compute-kvm",
		ResyncPeriod:  30 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *UpgradeOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if !filepath.IsAbs(o.StateDir) {
		errors = append(errors, fmt.Errorf("--upgrade.state-dir must be an absolute path, got %q", o.StateDir))
	}
	if !filepath.IsAbs(o.Script) {
		errors = append(errors, fmt.Errorf("--upgrade.script must be an absolute path, got %q", o.Script))
	}

	names := [][2]string{
		{"upgrading-file", o.UpgradingFile},
		{"succeeded-file", o.SucceededFile},
		{"failed-file", o.FailedFile},
	}
	seen := make(map[string]string, len(names))
	for _, n := range names {
		flag, name := n[0], n[1]
		if name == "" || filepath.Base(name) != name {
			errors = append(errors, fmt.Errorf("--upgrade.%s must be a plain file name, got %q", flag, name))
			continue
		}
		if other, ok := seen[name]; ok {
			errors = append(errors, fmt.Errorf("--upgrade.%s and --upgrade.%s share the file name %q", other, flag, name))
		}
		seen[name] = flag
	}

	if o.ComputeRole == "" {
		errors = append(errors, fmt.Errorf("--upgrade.compute-role must not be empty"))
	}
	if o.ResyncPeriod <= 0 {
		errors = append(errors, fmt.Errorf("--upgrade.resync-period must be positive"))
	}

	return errors
}

// AddFlags adds flags for UpgradeOptions to the specified FlagSet.
func (o *UpgradeOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Version, "upgrade.version", o.Version, "Version reported with the upgrade status. Defaults to $CROWBAR_VERSION.")
	fs.StringVar(&o.StateDir, "upgrade.state-dir", o.StateDir, "Directory holding the upgrade sentinel files.")
	fs.StringVar(&o.UpgradingFile, "upgrade.upgrading-file", o.UpgradingFile, "Sentinel file present while the upgrade runs.")
	fs.StringVar(&o.SucceededFile, "upgrade.succeeded-file", o.SucceededFile, "Sentinel file left by a successful upgrade.")
	fs.StringVar(&o.FailedFile, "upgrade.failed-file", o.FailedFile, "Sentinel file left by a failed upgrade.")
	fs.StringVar(&o.Script, "upgrade.script", o.Script, "Absolute path of the admin server upgrade script.")
	fs.StringVar(&o.Sudo, "upgrade.sudo", o.Sudo, "Privilege escalation command for the upgrade script. Empty runs it directly.")
	fs.StringVar(&o.ScriptLog, "upgrade.script-log", o.ScriptLog, "File receiving the upgrade script output. Empty discards it.")
	fs.StringVar(&o.AdminNode, "upgrade.admin-node", o.AdminNode, "Name of the admin node. Empty selects the node with the admin label.")
	fs.StringVar(&o.ComputeRole, "upgrade.compute-role", o.ComputeRole, "Node role counted by the compute resources check.")
	fs.DurationVar(&o.ResyncPeriod, "upgrade.resync-period", o.ResyncPeriod, "Interval of full sentinel re-reads in the watcher.")
}
