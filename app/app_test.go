package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/searchktools/wirehttp/config"
	"github.com/searchktools/wirehttp/core"
	"github.com/searchktools/wirehttp/core/http"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Scheduler = core.SchedulerWorkers
	cfg.Workers = 8
	cfg.LogLevel = "error"
	cfg.MetricsInterval = 0
	return cfg
}

func TestApp_Run(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 100

	a, err := New(cfg)
	require.NoError(t, err)
	a.Routes().GET("/hello/:name", func(req *http.Request) *http.Response {
		return http.Text(http.StatusOK, "hello "+req.Param("name"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-done:
		t.Fatalf("run: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("not ready")
	}

	resp, err := nethttp.Get(fmt.Sprintf("http://%s/hello/ada", a.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	require.Equal(t, "hello ada", string(body))
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	snap := a.Monitor().Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "GET /hello/:name", snap[0].Label)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
	}
	require.Equal(t, uint64(1), a.Stats().Accepted)
}

func TestApp_InvalidRoute(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)
	a.Routes().GET("no-slash", func(*http.Request) *http.Response { return nil })

	require.Error(t, a.Run(context.Background()))
}

func TestApp_StatsBeforeRun(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)
	require.Nil(t, a.Addr())
	require.Equal(t, core.SchedulerWorkers, a.Stats().Scheduler)
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig()
	cfg.LogFormat = "json"
	cfg.LogLevel = "info"
	cfg.Env = "test"

	var buf bytes.Buffer
	log, err := NewLogger(cfg, &buf)
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"message":"shown"`)
	require.Contains(t, buf.String(), `"env":"test"`)

	cfg.LogLevel = "loud"
	_, err = NewLogger(cfg, &buf)
	require.ErrorIs(t, err, config.ErrInvalid)
}
