package apiserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/adminupgrade/pkg/log"
	"github.com/autopeer-io/adminupgrade/pkg/options"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	opts := options.NewHttpOptions()
	opts.ShutdownTimeout = time.Second
	srv := NewServer(opts, NewHandler(&fakeService{}, nil, log.NewNopLogger()), log.NewNopLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/crowbar")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"version":"4.0"}`, string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	opts := options.NewHttpOptions()
	opts.Addr = ln.Addr().String()
	srv := NewServer(opts, http.NotFoundHandler(), log.NewNopLogger())

	require.Error(t, srv.Start(context.Background()))
}
