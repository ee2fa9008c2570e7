package server_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernald/kernald/internal/config"
	"github.com/kernald/kernald/internal/server"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DataDir = dataDir
	cfg.DBPath = dataDir + "/kernald.db"
	cfg.BindAddr = fmt.Sprintf("127.0.0.1:%d", freePort(t))
	return cfg
}

func TestServe_RespondsOnHealthAndShutsDownCleanly(t *testing.T) {
	cfg := testConfig(t)
	srv, err := server.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + cfg.BindAddr + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestNew_RejectsSecondInstanceOnSameDataDir(t *testing.T) {
	cfg := testConfig(t)
	srv, err := server.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)

	second := *cfg
	second.BindAddr = fmt.Sprintf("127.0.0.1:%d", freePort(t))
	_, err = server.New(&second)
	assert.Error(t, err)

	cancel()
	<-done
}
