package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/loykin/hylord/internal/auth"
	"github.com/loykin/hylord/internal/config"
	"github.com/loykin/hylord/pkg/client"
)

// apiURL prefers --api-url, then the listen address of the local config.
func apiURL(f *GlobalFlags) string {
	if f.APIUrl != "" {
		return strings.TrimRight(f.APIUrl, "/")
	}
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return client.DefaultBaseURL
	}
	host, port, err := net.SplitHostPort(cfg.HTTP.Listen)
	if err != nil {
		return client.DefaultBaseURL
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if cfg.HTTP.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, port), cfg.HTTP.BasePath)
}

// apiCredentials prefers --token, then the local config's http.auth block.
// The token file is only read here, never created.
func apiCredentials(f *GlobalFlags) auth.Credentials {
	if f.Token != "" {
		return auth.Credentials{Token: f.Token}
	}
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return auth.Credentials{}
	}
	a := cfg.APIAuth()
	if !a.Enabled {
		return auth.Credentials{}
	}
	cr := auth.Credentials{Token: strings.TrimSpace(a.Token), Username: a.Username, Password: a.Password}
	if cr.Token == "" && cr.Username == "" && a.TokenFile != "" {
		cr.Token, _ = auth.ReadToken(a.TokenFile)
	}
	return cr
}

func newAPIClient(f *GlobalFlags) *client.Client {
	cr := apiCredentials(f)
	return client.New(client.Config{
		BaseURL:  apiURL(f),
		Timeout:  f.APITimeout,
		CACert:   f.CACert,
		Insecure: f.Insecure,
		Token:    cr.Token,
		Username: cr.Username,
		Password: cr.Password,
	})
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
