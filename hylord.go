// Package hylord supervises a single dedicated game server: lifecycle,
// players, bans, backups and maintenance schedules behind an HTTP API.
package hylord

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	apiauth "github.com/loykin/hylord/internal/auth"
	cfg "github.com/loykin/hylord/internal/config"
	"github.com/loykin/hylord/internal/history"
	"github.com/loykin/hylord/internal/manager"
	"github.com/loykin/hylord/internal/metrics"
	"github.com/loykin/hylord/internal/process"
	iapi "github.com/loykin/hylord/internal/server"
	apitls "github.com/loykin/hylord/internal/tls"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = manager.Status

type ServerStatus = process.Status

type Notification = process.Notification

type HistorySink = history.Sink

type Option = manager.Option

// WithConsole mirrors raw server output into w.
func WithConsole(w io.Writer) Option { return manager.WithConsole(w) }

func WithHistory(sinks ...HistorySink) Option { return manager.WithHistory(sinks...) }

// Manager is a thin facade over internal/manager.Manager.
type Manager struct{ inner *manager.Manager }

func New(c *Config, opts ...Option) (*Manager, error) {
	m, err := manager.New(c, opts...)
	if err != nil {
		return nil, err
	}
	return &Manager{inner: m}, nil
}

func (m *Manager) Run(ctx context.Context) error { return m.inner.Run(ctx) }
func (m *Manager) Shutdown() error               { return m.inner.Shutdown() }
func (m *Manager) ApplyConfig(c *Config) error   { return m.inner.ApplyConfig(c) }
func (m *Manager) Status() Status                { return m.inner.Status() }
func (m *Manager) Start() error                  { return m.inner.Start() }
func (m *Manager) Stop() error                   { return m.inner.Stop() }
func (m *Manager) Restart() error                { return m.inner.Restart() }
func (m *Manager) Command(text string) error     { return m.inner.Command(text) }
func (m *Manager) Online() bool                  { return m.inner.Online() }
func (m *Manager) Subscribe(buf int) (<-chan Notification, func()) {
	return m.inner.Subscribe(buf)
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// WatchConfig re-applies schedule and policy edits to m whenever path
// changes.
func WatchConfig(path string, m *Manager) error {
	return cfg.Watch(path, func(c *Config) {
		if err := m.ApplyConfig(c); err != nil {
			slog.Error("Reloaded configuration rejected", "error", err)
		}
	}, func(err error) {
		slog.Error("Configuration reload failed", "error", err)
	})
}

// NewHTTPServer builds the control API server for c.HTTP. TLSConfig is set
// when http.tls is enabled; use ListenAndServeTLS("", "") in that case. With
// http.auth enabled and no explicit credential, the bearer token is read from
// (or first written to) http.auth.token_file.
func NewHTTPServer(c *Config, m *Manager) (*http.Server, error) {
	mw, err := apiauth.New(c.APIAuth())
	if err != nil {
		return nil, err
	}
	r := iapi.NewRouter(m.inner, c.HTTP.BasePath,
		iapi.WithMetrics(c.Metrics.Enabled),
		iapi.WithAuth(mw),
	)
	srv := iapi.NewServer(c.HTTP.Listen, r)
	tc, err := apitls.Setup(c.APITLS())
	if err != nil {
		return nil, err
	}
	srv.TLSConfig = tc
	return srv, nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
