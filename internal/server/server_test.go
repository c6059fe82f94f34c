// AngelaMos | 2026
// server_test.go

package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/modelforge/internal/config"
)

type recordingNotifier struct {
	shutdown bool
}

func (n *recordingNotifier) SetShutdown(v bool) { n.shutdown = v }

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestServerLifecycle(t *testing.T) {
	notifier := &recordingNotifier{}
	port := freePort(t)

	srv := New(Config{
		ServerConfig: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            port,
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			IdleTimeout:     time.Second,
			ShutdownTimeout: time.Second,
		},
		HealthHandler: notifier,
	})
	srv.Router().Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	url := "http://" + srv.httpServer.Addr + "/ping"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background(), 0))
	assert.True(t, notifier.shutdown)
	assert.NoError(t, <-errCh)
}
