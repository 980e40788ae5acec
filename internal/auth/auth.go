// Package auth protects the control API with a static credential and keeps
// browsers on other origins away from it.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoCredentials      = errors.New("auth enabled but no token, token_file or username configured")
)

// Config is the http.auth block. With neither Token nor Username set the
// token is read from TokenFile, which is created on first use.
type Config struct {
	Enabled   bool   `mapstructure:"enabled" json:"enabled"`
	Token     string `mapstructure:"token" json:"token,omitempty"`
	TokenFile string `mapstructure:"token_file" json:"token_file"`
	Username  string `mapstructure:"username" json:"username,omitempty"`
	Password  string `mapstructure:"password" json:"password,omitempty"`
}

// Credentials is what a request must present.
type Credentials struct {
	Token    string
	Username string
	Password string
}

// Resolve turns the config into credentials, generating the token file when
// needed.
func (c Config) Resolve() (Credentials, error) {
	cr := Credentials{Token: strings.TrimSpace(c.Token), Username: c.Username, Password: c.Password}
	if cr.Token != "" || cr.Username != "" {
		return cr, nil
	}
	if c.TokenFile == "" {
		return Credentials{}, ErrNoCredentials
	}
	tok, err := LoadOrCreateToken(c.TokenFile)
	if err != nil {
		return Credentials{}, err
	}
	cr.Token = tok
	return cr, nil
}

// ReadToken returns the token stored at path without creating it.
func ReadToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return tok, nil
}

// LoadOrCreateToken reads the token at path, writing a fresh random one with
// owner-only permissions when the file does not exist.
func LoadOrCreateToken(path string) (string, error) {
	tok, err := ReadToken(path)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read token: %w", err)
	}
	tok = generateToken()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write token: %w", err)
	}
	slog.Info("API token generated", "path", path)
	return tok, nil
}

func generateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Check validates a bearer token or basic-auth pair.
func (c Credentials) Check(bearer, user, pass string, basic bool) error {
	if bearer != "" && c.Token != "" && equal(bearer, c.Token) {
		return nil
	}
	if basic && c.Username != "" && equal(user, c.Username) && equal(pass, c.Password) {
		return nil
	}
	return ErrInvalidCredentials
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
