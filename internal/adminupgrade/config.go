// Package adminupgrade wires the admin node upgrade controller together.
package adminupgrade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	utilexec "k8s.io/utils/exec"
	controllerclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/autopeer-io/adminupgrade/internal/apiserver"
	"github.com/autopeer-io/adminupgrade/internal/cluster"
	"github.com/autopeer-io/adminupgrade/internal/node/kube"
	"github.com/autopeer-io/adminupgrade/internal/notifier"
	"github.com/autopeer-io/adminupgrade/internal/precheck"
	"github.com/autopeer-io/adminupgrade/internal/upgrade"
	"github.com/autopeer-io/adminupgrade/internal/upgrade/sentinel"
	"github.com/autopeer-io/adminupgrade/internal/zypper"
	"github.com/autopeer-io/adminupgrade/pkg/log"
	"github.com/autopeer-io/adminupgrade/pkg/options"
	"github.com/autopeer-io/adminupgrade/pkg/ssh"
)

// Config holds everything needed to build a Controller. The optional
// dependencies are created from the options when left nil.
type Config struct {
	UpgradeOptions *options.UpgradeOptions
	ZypperOptions  *options.ZypperOptions
	KubeOptions    *options.KubeOptions
	SSHOptions     *options.SSHOptions
	HttpOptions    *options.HttpOptions
	MqttOptions    *options.MqttOptions

	KubeClient controllerclient.Client
	Exec       utilexec.Interface
	Spawner    upgrade.Spawner
	SSHRunner  cluster.Runner
	Logger     log.Logger
}

// Controller is the fully wired upgrade controller.
type Controller struct {
	Manager  *upgrade.Manager
	Watcher  *upgrade.Watcher
	Reporter *upgrade.Reporter
	Server   *apiserver.Server
	Notifier *notifier.MQTTNotifier

	logger log.Logger
}

// New builds a Controller from cfg.
func (cfg *Config) New() (*Controller, error) {
	logger := log.OrStd(cfg.Logger)
	uo := cfg.UpgradeOptions

	kubeClient := cfg.KubeClient
	if kubeClient == nil {
		c, err := kube.InitializeClient(cfg.KubeOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to init node registry client: %w", err)
		}
		kubeClient = c
	}
	registry := kube.NewRegistry(kubeClient, uo.AdminNode)
	preparer := kube.NewPreparer(registry, logger)

	runner := cfg.SSHRunner
	if runner == nil {
		runner = newSSHRunner(cfg.SSHOptions, logger)
	}

	exec := cfg.Exec
	if exec == nil {
		exec = utilexec.New()
	}

	evaluator := precheck.NewEvaluator(precheck.Config{
		Packages:    zypper.NewClient(cfg.ZypperOptions, exec, logger),
		Health:      cluster.NewChecker(registry, runner, cfg.SSHOptions.FounderRole, logger),
		Nodes:       registry,
		OSProduct:   precheck.Product{Name: cfg.ZypperOptions.OSProduct, Version: cfg.ZypperOptions.OSVersion},
		Cloud:       precheck.Product{Name: cfg.ZypperOptions.CloudProduct, Version: cfg.ZypperOptions.CloudVersion},
		ComputeRole: uo.ComputeRole,
		Logger:      logger,
	})

	store := sentinel.NewFileStore(uo.StateDir, sentinel.Layout{
		UpgradingFile: uo.UpgradingFile,
		SucceededFile: uo.SucceededFile,
		FailedFile:    uo.FailedFile,
	})
	reporter := upgrade.NewReporter(store, uo.Version)

	nodeName := uo.AdminNode
	if nodeName == "" {
		nodeName, _ = os.Hostname()
	}
	mqttNotifier, err := notifier.NewMQTTNotifier(cfg.MqttOptions, nodeName, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init notifier: %w", err)
	}
	var notifiers []upgrade.Notifier
	if mqttNotifier != nil {
		notifiers = append(notifiers, mqttNotifier)
	}
	watcher := upgrade.NewWatcher(store, reporter, uo.ResyncPeriod, logger, notifiers...)

	spawner := cfg.Spawner
	if spawner == nil {
		spawner = &upgrade.ProcessSpawner{LogPath: uo.ScriptLog, Logger: logger}
	}

	manager := upgrade.NewManager(upgrade.ManagerConfig{
		Reporter: reporter,
		Launcher: upgrade.NewLauncher(upgrade.LauncherConfig{
			Store:   store,
			Lock:    sentinel.NewFileLock(filepath.Join(store.Dir(), sentinel.DefaultLockFile)),
			Nodes:   registry,
			Spawner: spawner,
			Script:  uo.Script,
			Sudo:    uo.Sudo,
			Logger:  logger,
		}),
		Canceller: upgrade.NewCanceller(store, preparer, logger),
		Preparer:  preparer,
		Prechecks: evaluator,
		Watcher:   watcher,
		Logger:    logger,
	})

	ready := func(context.Context) error {
		_, err := reporter.Status()
		return err
	}
	server := apiserver.NewServer(cfg.HttpOptions, apiserver.NewHandler(manager, ready, logger), logger)

	return &Controller{
		Manager:  manager,
		Watcher:  watcher,
		Reporter: reporter,
		Server:   server,
		Notifier: mqttNotifier,
		logger:   logger,
	}, nil
}

// unavailableRunner fails every command. It stands in for SSH when no usable
// key is configured so only the cluster check is affected.
type unavailableRunner struct {
	err error
}

func (u unavailableRunner) Run(context.Context, string, string) (ssh.Result, error) {
	return ssh.Result{}, u.err
}

func newSSHRunner(opts *options.SSHOptions, logger log.Logger) cluster.Runner {
	client, err := ssh.NewClientFromFiles(ssh.Config{
		Port:        opts.Port,
		User:        opts.User,
		DialTimeout: opts.Timeout,
		Attempts:    opts.Retries,

		InsecureIgnoreHostKey: opts.InsecureIgnoreHostKey,
	}, opts.KeyFile, opts.KnownHosts)
	if err != nil {
		logger.Warn("SSH unavailable, cluster health will report every founder as failing", "error", err)
		return unavailableRunner{err: fmt.Errorf("ssh unavailable: %w", err)}
	}
	return client
}
