package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/adminupgrade/internal/pkg/metrics"
	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
	"github.com/autopeer-io/adminupgrade/internal/precheck"
	"github.com/autopeer-io/adminupgrade/internal/upgrade"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

type fakeService struct {
	status      *upgrade.Status
	report      precheck.Report
	pid         int
	err         error
	precheckErr error
	launches    int
	cancels     int
	prepares    int
}

func (f *fakeService) Version() string { return "4.0" }

func (f *fakeService) Status(context.Context) (*upgrade.Status, error) {
	return f.status, f.err
}

func (f *fakeService) Prechecks(context.Context) (precheck.Report, error) {
	return f.report, f.precheckErr
}

func (f *fakeService) Prepare(context.Context) error {
	f.prepares++
	return f.err
}

func (f *fakeService) Launch(context.Context) (int, error) {
	f.launches++
	return f.pid, f.err
}

func (f *fakeService) Cancel(context.Context) error {
	f.cancels++
	return f.err
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStatus(t *testing.T) {
	svc := &fakeService{status: &upgrade.Status{Version: "4.0", Upgrade: upgrade.State{Success: true}}}
	h := NewHandler(svc, nil, log.NewNopLogger())

	rec := serve(t, h, http.MethodGet, "/api/upgrade")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"version":"4.0","upgrade":{"upgrading":false,"success":true,"failed":false}}`, rec.Body.String())

	rec = serve(t, h, http.MethodGet, "/api/crowbar")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"4.0"}`, rec.Body.String())
}

func TestLaunch(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"started", nil, http.StatusOK, ""},
		{"in progress", fmt.Errorf("launch: %w", util.ErrAlreadyInProgress), http.StatusConflict, "already_in_progress"},
		{"script missing", fmt.Errorf("%w: could not find /opt/dell/bin/upgrade_admin_server.sh", util.ErrScriptMissing), http.StatusUnprocessableEntity, "script_missing"},
		{"node mutation", fmt.Errorf("%w: conflict", util.ErrNodeMutationFailed), http.StatusUnprocessableEntity, "node_mutation_failed"},
		{"unclassified", errors.New("boom"), http.StatusUnprocessableEntity, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{pid: 31337, err: tt.err}
			rec := serve(t, NewHandler(svc, nil, log.NewNopLogger()), http.MethodPost, "/api/upgrade/start")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, 1, svc.launches)
			if tt.err == nil {
				assert.JSONEq(t, `{"pid":31337}`, rec.Body.String())
				return
			}
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantKind, body.Code)
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

func TestLaunch_WrongMethod(t *testing.T) {
	svc := &fakeService{}
	rec := serve(t, NewHandler(svc, nil, log.NewNopLogger()), http.MethodGet, "/api/upgrade/start")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, svc.launches)
}

func TestCancelAndPrepare(t *testing.T) {
	svc := &fakeService{}
	h := NewHandler(svc, nil, log.NewNopLogger())

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodPost, "/api/upgrade/cancel").Code)
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodPost, "/api/upgrade/prepare").Code)
	assert.Equal(t, 1, svc.cancels)
	assert.Equal(t, 1, svc.prepares)

	svc.err = errors.New("failed to revert nodes from upgrade: etcd unavailable")
	rec := serve(t, h, http.MethodPost, "/api/upgrade/cancel")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, svc.err.Error(), decodeError(t, rec).Error)
}

func TestPrechecks(t *testing.T) {
	svc := &fakeService{
		report: precheck.Report{
			precheck.MaintenanceUpdates: {Passed: true},
			precheck.Repositories: {
				Error: fmt.Errorf("%w: System management is locked", util.ErrPackageManagerLocked).Error(),
			},
		},
		precheckErr: fmt.Errorf("repositories: %w", util.ErrPackageManagerLocked),
	}
	rec := serve(t, NewHandler(svc, nil, log.NewNopLogger()), http.MethodGet, "/api/upgrade/prechecks")
	require.Equal(t, http.StatusOK, rec.Code)

	var body PrechecksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Passed)
	assert.True(t, body.Checks[precheck.MaintenanceUpdates].Passed)
	assert.Contains(t, body.Checks[precheck.Repositories].Error, "System management is locked")
}

func TestPrechecks_NoReport(t *testing.T) {
	svc := &fakeService{precheckErr: fmt.Errorf("%w: System management is locked", util.ErrPackageManagerLocked)}
	rec := serve(t, NewHandler(svc, nil, log.NewNopLogger()), http.MethodGet, "/api/upgrade/prechecks")

	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "package_manager_locked", decodeError(t, rec).Code)
}

func TestNotImplemented(t *testing.T) {
	h := NewHandler(&fakeService{}, nil, log.NewNopLogger())

	assert.Equal(t, http.StatusNotImplemented, serve(t, h, http.MethodPut, "/api/upgrade").Code)
	assert.Equal(t, http.StatusNotImplemented, serve(t, h, http.MethodPatch, "/api/upgrade").Code)
	assert.Equal(t, http.StatusNotImplemented, serve(t, h, http.MethodPost, "/api/upgrade/services").Code)

	rec := serve(t, h, http.MethodGet, "/api/upgrade/services")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestProbesAndMetrics(t *testing.T) {
	var ready error
	h := NewHandler(&fakeService{}, func(context.Context) error { return ready }, log.NewNopLogger())

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/readyz").Code)

	ready = errors.New("sentinel directory unreadable")
	rec := serve(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "sentinel directory unreadable")

	metrics.UpgradePhase.WithLabelValues(string(upgrade.PhaseIdle)).Set(1)
	rec = serve(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "admin_upgrade_"), "custom collectors are exported")
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusCode(util.ErrAlreadyInProgress))
	assert.Equal(t, http.StatusLocked, StatusCode(util.ErrPackageManagerLocked))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(context.Canceled))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(util.ErrExternalCommandFailed))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(fmt.Errorf("%w: stat failed", util.ErrStateUnavailable)))
}
