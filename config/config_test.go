package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/wirehttp/core"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("test", nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := Load("test", []string{
		"-port", "9090",
		"-scheduler", "workers",
		"-read-timeout", "3s",
		"-max-requests", "10",
		"-no-delay=false",
	})
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, core.SchedulerWorkers, cfg.Scheduler)
	require.Equal(t, 3*time.Second, cfg.ReadTimeout)
	require.Equal(t, 10, cfg.MaxRequestsPerConn)
	require.False(t, cfg.NoDelay)
}

// TestLoad_Precedence 测试配置优先级: 文件 < 环境变量 < 命令行
func TestLoad_Precedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wirehttp.json")
	require.NoError(t, os.WriteFile(file, []byte(`{
		"port": 7000,
		"log": {"level": "debug", "format": "json"},
		"idle": {"timeout": "90s"},
		"max.buffer.bytes": 65536
	}`), 0o644))

	t.Setenv("WIREHTTP_PORT", "7100")
	t.Setenv("WIREHTTP_WRITE_RETRIES", "2")

	cfg, err := Load("test", []string{"-config", file, "-log-level", "warn"})
	require.NoError(t, err)

	require.Equal(t, 7100, cfg.Port)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, 90*time.Second, cfg.IdleTimeout)
	require.Equal(t, 65536, cfg.MaxBufferBytes)
	require.Equal(t, 2, cfg.WriteRetries)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("test", []string{"-config", filepath.Join(t.TempDir(), "missing.json")})
	require.Error(t, err)

	t.Setenv("WIREHTTP_READ_TIMEOUT", "soon")
	_, err = Load("test", nil)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_BadFlag(t *testing.T) {
	_, err := Load("test", []string{"-no-such-flag"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"scheduler", func(c *Config) { c.Scheduler = "threads" }},
		{"backend", func(c *Config) { c.Backend = "kqueue" }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"buffers", func(c *Config) { c.MaxBufferBytes = c.InitialBufferBytes - 1 }},
		{"descriptors", func(c *Config) { c.MaxDescriptors = 0 }},
		{"rate window", func(c *Config) { c.RateLimit, c.RateWindow = 5, 0 }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"keep-alive max hint", func(c *Config) { c.KeepAliveMaxHint = -1 }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.KeepAliveTimeoutHint = 7 * time.Second
	cfg.KeepAliveMaxHint = 9

	opts := cfg.Options(zerolog.Nop())
	require.Equal(t, "127.0.0.1:0", opts.Addr)
	require.Equal(t, cfg.MaxRequestsPerConn, opts.MaxRequestsPerConn)
	require.Equal(t, cfg.WriteBackoff, opts.WriteBackoff)

	s := cfg.Serializer()
	require.Equal(t, 7*time.Second, s.KeepAliveTimeout)
	require.Equal(t, 9, s.KeepAliveMax)
}

func TestConfig_KeepAliveMaxFollowsRequestCap(t *testing.T) {
	cfg := Default()
	require.Equal(t, cfg.MaxRequestsPerConn, cfg.Serializer().KeepAliveMax)

	cfg.MaxRequestsPerConn = 25
	require.Equal(t, 25, cfg.Serializer().KeepAliveMax)

	cfg.MaxRequestsPerConn = 0
	require.Equal(t, 100, cfg.Serializer().KeepAliveMax)
}

func TestManager(t *testing.T) {
	m := NewManager()
	m.Set("a.int", "42")
	m.Set("a.float", float64(3))
	m.Set("a.dur", "250ms")
	m.Set("a.name", "x")

	v, ok := m.Get("a.dur")
	require.True(t, ok)
	require.Equal(t, "250ms", v)
	_, ok = m.Get("missing")
	require.False(t, ok)
	require.Equal(t, []string{"a.dur", "a.float", "a.int", "a.name"}, m.Keys())
}

func TestManager_Unmarshal(t *testing.T) {
	type target struct {
		Name    string
		Count   int           `config:"count"`
		Enabled bool          `config:"on"`
		Wait    time.Duration `config:"wait"`
		Skip    string        `config:"-"`
	}

	m := NewManager()
	m.Set("svc.name", "api")
	m.Set("svc.count", float64(4))
	m.Set("svc.on", "true")
	m.Set("svc.wait", "2s")
	m.Set("svc.-", "nope")

	var got target
	require.NoError(t, m.Unmarshal("svc", &got))
	require.Equal(t, target{Name: "api", Count: 4, Enabled: true, Wait: 2 * time.Second}, got)

	require.Error(t, m.Unmarshal("", got))

	m.Set("svc.on", "maybe")
	require.Error(t, m.Unmarshal("svc", &got))
}
