package app

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/adminupgrade/internal/precheck"
	"github.com/autopeer-io/adminupgrade/internal/upgrade"
)

func TestCommandTree(t *testing.T) {
	cmd := NewAdminUpgradeCommand(context.Background())

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "status", "prechecks", "prepare", "start", "cancel", "watch"} {
		assert.Contains(t, names, want)
	}

	for _, f := range []string{"upgrade.state-dir", "zypper.bin", "ssh.key-file", "http.addr", "mqtt.broker", "log.level", "config", "output"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(f), "missing flag %s", f)
	}
}

func TestInvalidOptionsFailBeforeRunning(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad output", []string{"status", "--output", "yaml"}, "--output"},
		{"relative state dir", []string{"status", "--upgrade.state-dir", "install"}, "--upgrade.state-dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewAdminUpgradeCommand(context.Background())
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPrinter_Status(t *testing.T) {
	s := &upgrade.Status{Version: "4.0", Upgrade: upgrade.State{Upgrading: true}}

	var out bytes.Buffer
	require.NoError(t, NewPrinter(&out, outputTable).Status(s))
	assert.Contains(t, out.String(), "PHASE")
	assert.Contains(t, out.String(), "upgrading")

	out.Reset()
	require.NoError(t, NewPrinter(&out, outputJSON).Status(s))
	assert.JSONEq(t, `{"version":"4.0","upgrade":{"upgrading":true,"success":false,"failed":false}}`, out.String())
}

func TestPrinter_Prechecks(t *testing.T) {
	r := precheck.Report{
		precheck.ComputeResources: {Passed: false, Details: map[string]int{"compute_nodes": 1}},
		precheck.Repositories:     {Error: "package manager locked: System management is locked"},
	}

	var out bytes.Buffer
	require.NoError(t, NewPrinter(&out, outputTable).Prechecks(r))
	text := out.String()
	assert.Contains(t, text, precheck.ComputeResources)
	assert.Contains(t, text, `{"compute_nodes":1}`)
	assert.Less(t, bytes.Index(out.Bytes(), []byte(precheck.ComputeResources)), bytes.Index(out.Bytes(), []byte(precheck.Repositories)), "rows are sorted")

	out.Reset()
	require.NoError(t, NewPrinter(&out, outputJSON).Prechecks(r))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Len(t, decoded, 2)
}

func TestPrinter_Change(t *testing.T) {
	var out bytes.Buffer
	c := upgrade.PhaseChange{From: upgrade.PhaseUpgrading, To: upgrade.PhaseSucceeded, At: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)}

	require.NoError(t, NewPrinter(&out, outputTable).Change(c))
	assert.Contains(t, out.String(), "2026-10-01T08:00:00Z")
	assert.Contains(t, out.String(), "succeeded")
}
