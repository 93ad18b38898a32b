package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SSHOptions)(nil)

// SSHOptions configures the connections used to query pacemaker cluster health.
type SSHOptions struct {
	User       string        `json:"user" mapstructure:"user"`
	Port       int           `json:"port" mapstructure:"port"`
	KeyFile    string        `json:"key-file" mapstructure:"key-file"`
	KnownHosts string        `json:"known-hosts" mapstructure:"known-hosts"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	Retries    uint          `json:"retries" mapstructure:"retries"`

	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool `json:"insecure-ignore-host-key" mapstructure:"insecure-ignore-host-key"`

	// FounderRole is the node role label marking pacemaker cluster founders.
	FounderRole string `json:"founder-role" mapstructure:"founder-role"`
}

// NewSSHOptions creates an SSHOptions with default values.
func NewSSHOptions() *SSHOptions {
	return &SSHOptions{
		User:        "root",
		Port:        22,
		KeyFile:     "/root/.ssh/id_rsa",
		KnownHosts:  "/root/.ssh/known_hosts",
		Timeout:     10 * time.Second,
		Retries:     3,
		FounderRole: "pacemaker-cluster-founder",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *SSHOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Port < 1 || o.Port > 65535 {
		errors = append(errors, fmt.Errorf("--ssh.port must be in [1, 65535], got %d", o.Port))
	}
	if o.User == "" {
		errors = append(errors, fmt.Errorf("--ssh.user must not be empty"))
	}
	if o.Retries == 0 {
		errors = append(errors, fmt.Errorf("--ssh.retries must be at least 1"))
	}
	if o.KnownHosts == "" && !o.InsecureIgnoreHostKey {
		errors = append(errors, fmt.Errorf("--ssh.known-hosts must be set unless --ssh.insecure-ignore-host-key is given"))
	}

	return errors
}

// AddFlags adds flags for SSHOptions to the specified FlagSet.
func (o *SSHOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.User, "ssh.user", o.User, "User for SSH connections to cluster nodes.")
	fs.IntVar(&o.Port, "ssh.port", o.Port, "SSH port of cluster nodes.")
	fs.StringVar(&o.KeyFile, "ssh.key-file", o.KeyFile, "Private key used for SSH authentication.")
	fs.StringVar(&o.KnownHosts, "ssh.known-hosts", o.KnownHosts, "known_hosts file for host key verification.")
	fs.BoolVar(&o.InsecureIgnoreHostKey, "ssh.insecure-ignore-host-key", o.InsecureIgnoreHostKey, "If true, accepts any host key when --ssh.known-hosts is empty.")
	fs.DurationVar(&o.Timeout, "ssh.timeout", o.Timeout, "Dial timeout for SSH connections.")
	fs.UintVar(&o.Retries, "ssh.retries", o.Retries, "Connection attempts per node.")
	fs.StringVar(&o.FounderRole, "ssh.founder-role", o.FounderRole, "Role of the nodes whose cluster status is checked.")
}
