package main

import (
	"os"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/adminupgrade/cmd/cpeer-admin-upgrade/app"
)

func main() {
	ctx := genericapiserver.SetupSignalContext()
	if err := app.NewAdminUpgradeCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
