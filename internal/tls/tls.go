// Package tls serves the control API over HTTPS, optionally with a
// self-signed certificate generated on first start.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	caFile   = "ca.crt"
	certFile = "server.crt"
	keyFile  = "server.key"
)

var ErrNoCertificate = errors.New("TLS enabled but neither cert_file/key_file nor dir is set")

// Options is the http.tls config block.
type Options struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	CertFile string `mapstructure:"cert_file" json:"cert_file"`
	KeyFile  string `mapstructure:"key_file" json:"key_file"`
	// Dir holds server.crt/server.key (and ca.crt when generated).
	Dir          string   `mapstructure:"dir" json:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate" json:"auto_generate"`
	MinVersion   string   `mapstructure:"min_version" json:"min_version"`
	Hosts        []string `mapstructure:"hosts" json:"hosts"`
	ValidDays    int      `mapstructure:"valid_days" json:"valid_days"`
}

func parseVersion(v string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", v)
}

// Setup returns nil when TLS is disabled. With Dir and AutoGenerate set, a
// missing certificate pair is generated first.
func Setup(o Options) (*tls.Config, error) {
	if !o.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(o.MinVersion)
	if err != nil {
		return nil, err
	}
	cert, key := o.CertFile, o.KeyFile
	if cert == "" || key == "" {
		if o.Dir == "" {
			return nil, ErrNoCertificate
		}
		cert, key = filepath.Join(o.Dir, certFile), filepath.Join(o.Dir, keyFile)
		if o.AutoGenerate && !pairExists(cert, key) {
			if err := generate(o); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	if _, err := tls.LoadX509KeyPair(cert, key); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	// #nosec G402 min version is configurable down to 1.2 only
	return &tls.Config{
		MinVersion:     minVer,
		GetCertificate: reloading(cert, key),
	}, nil
}

// reloading rereads the pair on every handshake so renewed certificates
// apply without a restart.
func reloading(cert, key string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := tls.LoadX509KeyPair(cert, key)
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}

func pairExists(cert, key string) bool {
	_, certErr := os.Stat(cert)
	_, keyErr := os.Stat(key)
	return certErr == nil && keyErr == nil
}

func generate(o Options) error {
	if err := os.MkdirAll(o.Dir, 0o700); err != nil {
		return err
	}
	hosts := o.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	days := o.ValidDays
	if days <= 0 {
		days = 365 * 5
	}
	return GenerateSelfSigned(CertConfig{
		CommonName:   hosts[0],
		Organization: "hylord",
		Hosts:        hosts,
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(o.Dir, certFile),
		KeyPath:      filepath.Join(o.Dir, keyFile),
		CACertPath:   filepath.Join(o.Dir, caFile),
	})
}

// CAPath is where a generated certificate is also written for clients to
// trust.
func CAPath(dir string) string { return filepath.Join(dir, caFile) }
