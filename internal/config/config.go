// Package config loads the supervisor's JSON configuration with viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	apiauth "github.com/loykin/hylord/internal/auth"
	"github.com/loykin/hylord/internal/backup"
	"github.com/loykin/hylord/internal/cron"
	"github.com/loykin/hylord/internal/handshake"
	"github.com/loykin/hylord/internal/logger"
	"github.com/loykin/hylord/internal/process"
	apitls "github.com/loykin/hylord/internal/tls"
)

const (
	DefaultPath      = "hylord.json"
	DefaultHTTPAddr  = "127.0.0.1:5580"
	DefaultTime      = "03:00"
	envPrefix        = "HYLORD"
	defaultCrashWait = 10 * time.Second
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server" json:"server"`
	AutoRestart AutoRestartConfig `mapstructure:"autorestart" json:"AutoRestart"`
	AutoBackup  AutoBackupConfig  `mapstructure:"autobackup" json:"AutoBackup"`
	Files       FilesConfig       `mapstructure:"files" json:"files"`
	Log         logger.Config     `mapstructure:"log" json:"log"`
	HTTP        HTTPConfig        `mapstructure:"http" json:"http"`
	History     HistoryConfig     `mapstructure:"history" json:"history"`
	Metrics     MetricsConfig     `mapstructure:"metrics" json:"metrics"`
	Auth        AuthConfig        `mapstructure:"auth" json:"auth"`

	path string
}

type ServerConfig struct {
	Name          string        `mapstructure:"name" json:"name"`
	Executable    string        `mapstructure:"executable" json:"executable"`
	Args          []string      `mapstructure:"args" json:"args"`
	Assets        string        `mapstructure:"assets" json:"assets"`
	BindHost      string        `mapstructure:"bind_host" json:"bind_host"`
	Port          int           `mapstructure:"port" json:"port"`
	WorkDir       string        `mapstructure:"work_dir" json:"work_dir"`
	BackupDir     string        `mapstructure:"backup_dir" json:"backup_dir"`
	DataDir       string        `mapstructure:"data_dir" json:"data_dir"`
	PlayersDir    string        `mapstructure:"players_dir" json:"players_dir"`
	Env           []string      `mapstructure:"env" json:"env"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout" json:"stop_timeout"`
	RestartSettle time.Duration `mapstructure:"restart_settle" json:"restart_settle"`
	// RestartOnCrash starts the server again CrashDelay after an unexpected exit.
	RestartOnCrash bool          `mapstructure:"restart_on_crash" json:"restart_on_crash"`
	CrashDelay     time.Duration `mapstructure:"crash_delay" json:"crash_delay"`
	AutoStart      bool          `mapstructure:"auto_start" json:"auto_start"`
}

type AutoRestartConfig struct {
	Enabled   bool   `mapstructure:"enabled" json:"Enabled"`
	Mode      string `mapstructure:"mode" json:"Mode"`
	Time      string `mapstructure:"time" json:"Time"`
	DayOfWeek string `mapstructure:"dayofweek" json:"DayOfWeek"`
}

type AutoBackupConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"Enabled"`
	Time       string `mapstructure:"time" json:"Time"`
	MaxBackups int    `mapstructure:"maxbackups" json:"MaxBackups"`
}

type FilesConfig struct {
	Sessions string `mapstructure:"sessions" json:"sessions"`
	Bans     string `mapstructure:"bans" json:"bans"`
}

type HTTPConfig struct {
	Enabled  bool           `mapstructure:"enabled" json:"enabled"`
	Listen   string         `mapstructure:"listen" json:"listen"`
	BasePath string         `mapstructure:"base_path" json:"base_path"`
	TLS      apitls.Options `mapstructure:"tls" json:"tls"`
	Auth     apiauth.Config `mapstructure:"auth" json:"auth"`
}

type HistoryConfig struct {
	Enabled bool     `mapstructure:"enabled" json:"enabled"`
	DSNs    []string `mapstructure:"dsns" json:"dsns"`
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled" json:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval" json:"sample_interval"`
}

type AuthConfig struct {
	LoginCommand string   `mapstructure:"login_command" json:"login_command"`
	AllowedHosts []string `mapstructure:"allowed_hosts" json:"allowed_hosts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "hytale")
	v.SetDefault("server.executable", process.DefaultExecutable)
	v.SetDefault("server.args", []string{"-jar", "HytaleServer.jar"})
	v.SetDefault("server.assets", "Assets.zip")
	v.SetDefault("server.bind_host", "0.0.0.0")
	v.SetDefault("server.port", process.DefaultPort)
	v.SetDefault("server.backup_dir", "backups")
	v.SetDefault("server.data_dir", "universe")
	v.SetDefault("server.players_dir", filepath.Join("universe", "players"))
	v.SetDefault("server.stop_timeout", process.DefaultStopTimeout)
	v.SetDefault("server.restart_settle", process.DefaultRestartSettle)
	v.SetDefault("server.crash_delay", defaultCrashWait)

	v.SetDefault("autorestart.enabled", false)
	v.SetDefault("autorestart.mode", "Daily")
	v.SetDefault("autorestart.time", DefaultTime)
	v.SetDefault("autorestart.dayofweek", "Sunday")
	v.SetDefault("autobackup.enabled", false)
	v.SetDefault("autobackup.time", DefaultTime)

	v.SetDefault("files.sessions", "player_sessions.json")
	v.SetDefault("files.bans", "bans.json")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", DefaultHTTPAddr)
	v.SetDefault("http.base_path", "/api")
	v.SetDefault("http.tls.enabled", false)
	v.SetDefault("http.tls.dir", "certs")
	v.SetDefault("http.tls.auto_generate", true)
	v.SetDefault("http.auth.enabled", true)
	v.SetDefault("http.auth.token_file", "api.token")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.sample_interval", 5*time.Second)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path. A missing file yields the defaults; a malformed one is an
// error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return decode(v, path)
}

func decode(v *viper.Viper, path string) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	c.path = path
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Path() string { return c.path }

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Executable) == "" {
		return errors.New("server.executable is required")
	}
	if _, err := c.RestartSchedule(); err != nil {
		return fmt.Errorf("AutoRestart: %w", err)
	}
	if _, err := c.BackupSchedule(); err != nil {
		return fmt.Errorf("AutoBackup: %w", err)
	}
	if c.AutoBackup.MaxBackups < 0 {
		return errors.New("AutoBackup.MaxBackups must not be negative")
	}
	return nil
}

// RestartSchedule converts the AutoRestart block.
func (c *Config) RestartSchedule() (cron.ScheduleSpec, error) {
	mode, err := cron.ParseMode(c.AutoRestart.Mode)
	if err != nil {
		return cron.ScheduleSpec{}, err
	}
	day, err := cron.ParseWeekday(c.AutoRestart.DayOfWeek)
	if err != nil {
		return cron.ScheduleSpec{}, err
	}
	h, m, err := cron.ParseClock(orDefault(c.AutoRestart.Time, DefaultTime))
	if err != nil {
		return cron.ScheduleSpec{}, err
	}
	return cron.ScheduleSpec{Enabled: c.AutoRestart.Enabled, Mode: mode, Hour: h, Minute: m, Weekday: day}, nil
}

// BackupSchedule converts the AutoBackup block. Backups are always daily.
func (c *Config) BackupSchedule() (cron.ScheduleSpec, error) {
	h, m, err := cron.ParseClock(orDefault(c.AutoBackup.Time, DefaultTime))
	if err != nil {
		return cron.ScheduleSpec{}, err
	}
	return cron.ScheduleSpec{Enabled: c.AutoBackup.Enabled, Mode: cron.Daily, Hour: h, Minute: m}, nil
}

// Resolve makes a relative path relative to the server's work dir.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Server.WorkDir == "" {
		return p
	}
	return filepath.Join(c.Server.WorkDir, p)
}

func (c *Config) ProcessSpec() process.Spec {
	s := c.Server
	return process.Spec{
		Name:          s.Name,
		Executable:    s.Executable,
		Args:          s.Args,
		AssetsPath:    s.Assets,
		BindHost:      s.BindHost,
		Port:          s.Port,
		BackupDir:     s.BackupDir,
		WorkDir:       s.WorkDir,
		Env:           s.Env,
		StopTimeout:   s.StopTimeout,
		RestartSettle: s.RestartSettle,
	}
}

func (c *Config) BackupConfig() backup.Config {
	return backup.Config{
		BackupDir: c.Resolve(c.Server.BackupDir),
		DataDir:   c.Resolve(c.Server.DataDir),
	}
}

func (c *Config) HandshakeConfig() handshake.Config {
	return handshake.Config{LoginCommand: c.Auth.LoginCommand, AllowedHosts: c.Auth.AllowedHosts}
}

// APITLS resolves the certificate paths against the work dir.
func (c *Config) APITLS() apitls.Options {
	o := c.HTTP.TLS
	o.CertFile, o.KeyFile, o.Dir = c.Resolve(o.CertFile), c.Resolve(o.KeyFile), c.Resolve(o.Dir)
	return o
}

// APIAuth resolves the token file against the work dir.
func (c *Config) APIAuth() apiauth.Config {
	a := c.HTTP.Auth
	a.TokenFile = c.Resolve(a.TokenFile)
	return a
}

func (c *Config) SessionsPath() string { return c.Resolve(c.Files.Sessions) }
func (c *Config) BansPath() string     { return c.Resolve(c.Files.Bans) }
func (c *Config) PlayersDir() string   { return c.Resolve(c.Server.PlayersDir) }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// Watch re-reads path on every change and hands valid configs to fn.
// Invalid edits are reported through onErr and otherwise ignored.
func Watch(path string, fn func(*Config), onErr func(error)) error {
	if path == "" {
		path = DefaultPath
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	v.OnConfigChange(func(fsnotify.Event) {
		c, err := decode(v, path)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(c)
	})
	v.WatchConfig()
	return nil
}
