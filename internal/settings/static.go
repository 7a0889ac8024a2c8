// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package settings

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/vpnhouse/ratio/pkg/human"
	"github.com/vpnhouse/ratio/pkg/sentry"
	"github.com/vpnhouse/ratio/pkg/validator"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
	"gopkg.in/hlandau/passlib.v1"
	"gopkg.in/yaml.v3"
)

type Config struct {
	InstanceID string        `yaml:"instance_id"`
	LogLevel   string        `yaml:"log_level"`
	HTTP       HttpConfig    `yaml:"http"`
	State      StateConfig   `yaml:"state"`
	Tracker    TrackerConfig `yaml:"tracker"`

	// optional configuration
	AdminAPI *AdminAPIConfig `yaml:"admin_api,omitempty"`
	Torrent  *TorrentConfig  `yaml:"torrent,omitempty"`
	Sentry   *sentry.Config  `yaml:"sentry,omitempty"`

	// path to the config file, or default path in case of safe defaults.
	path string

	// mu guards RW access to the Config
	mu sync.RWMutex
}

type HttpConfig struct {
	// ListenAddr for HTTP server, default: ":8112"
	ListenAddr string `yaml:"listen_addr" valid:"listen_addr"`
	// CORS enables corresponding middleware for the web UI development
	CORS bool `yaml:"cors"`
	// Enable prometheus metrics on "/metrics" path
	Prometheus bool `yaml:"prometheus"`
}

type StateConfig struct {
	// Backend is "file" (YAML, default) or "sqlite"
	Backend string `yaml:"backend" valid:"in(file|sqlite)"`
	// Dir holds the state file, defaults to the config directory
	Dir string `yaml:"dir,omitempty" valid:"path"`
}

type TrackerConfig struct {
	// Interval to poll the session counters
	RefreshInterval human.Interval `yaml:"refresh_interval"`
	// Interval to write lifetime totals to the state store
	PersistInterval human.Interval `yaml:"persist_interval"`
}

type AdminAPIConfig struct {
	// passlib-compatible hash, empty disables authentication
	PasswordHash  string `yaml:"password_hash" valid:"hash"`
	TokenLifetime int    `yaml:"token_lifetime" valid:"natural"`
	// failed logins allowed per client address within the lockout period
	AuthAttempts int            `yaml:"auth_attempts,omitempty" valid:"natural"`
	AuthLockout  human.Interval `yaml:"auth_lockout,omitempty"`
	// concurrent watch streams per client address
	MaxWatchers int `yaml:"max_watchers,omitempty" valid:"natural"`
}

type TorrentConfig struct {
	DataDir    string               `yaml:"data_dir" valid:"path,required"`
	ListenPort int                  `yaml:"listen_port" valid:"port"`
	Seed       bool                 `yaml:"seed"`
	NoUpload   bool                 `yaml:"no_upload"`
	Files      []string             `yaml:"files,omitempty"`
	Magnets    validator.MagnetList `yaml:"magnets,omitempty" valid:"magnetlist"`
}

func (s *Config) ConfigDir() string {
	return filepath.Dir(s.path)
}

// StateDir returns the directory of the ratio state store.
func (s *Config) StateDir() string {
	if len(s.State.Dir) > 0 {
		return s.State.Dir
	}
	return s.ConfigDir()
}

// StateBackend returns the state store kind, "file" unless configured otherwise.
func (s *Config) StateBackend() string {
	if len(s.State.Backend) == 0 {
		return StateBackendFile
	}
	return s.State.Backend
}

// SqlitePath is the database location used by the "sqlite" state backend.
func (s *Config) SqlitePath() string {
	return filepath.Join(s.StateDir(), stateSqliteName)
}

func (s *Config) GetRefreshInterval() time.Duration {
	return s.Tracker.RefreshInterval.Or(DefaultRefreshInterval)
}

func (s *Config) GetPersistInterval() time.Duration {
	return s.Tracker.PersistInterval.Or(DefaultPersistInterval)
}

func (s *Config) GetTokenLifetime() time.Duration {
	if s.AdminAPI == nil || s.AdminAPI.TokenLifetime == 0 {
		return DefaultTokenLifetime
	}
	return time.Duration(s.AdminAPI.TokenLifetime) * time.Second
}

func (s *Config) GetAuthAttempts() int {
	if s.AdminAPI == nil || s.AdminAPI.AuthAttempts == 0 {
		return DefaultAuthAttempts
	}
	return s.AdminAPI.AuthAttempts
}

func (s *Config) GetAuthLockout() time.Duration {
	if s.AdminAPI == nil {
		return DefaultAuthLockout
	}
	return s.AdminAPI.AuthLockout.Or(DefaultAuthLockout)
}

func (s *Config) GetMaxWatchers() int {
	if s.AdminAPI == nil || s.AdminAPI.MaxWatchers == 0 {
		return DefaultWatchersPerClient
	}
	return s.AdminAPI.MaxWatchers
}

// AuthRequired reports whether the API is protected by the admin password.
func (s *Config) AuthRequired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AdminAPI != nil && len(s.AdminAPI.PasswordHash) > 0
}

func (s *Config) VerifyAdminPassword(given string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.AdminAPI == nil || len(s.AdminAPI.PasswordHash) == 0 {
		return xerror.EAuthenticationFailed("admin password is not set", nil)
	}

	if err := passlib.VerifyNoUpgrade(given, s.AdminAPI.PasswordHash); err != nil {
		return xerror.EAuthenticationFailed("invalid admin password given", nil)
	}
	return nil
}

func LoadStatic(configDir string) (*Config, error) {
	return staticConfigFromFS(afero.NewOsFs(), configDir)
}

func staticConfigFromFS(fs afero.Fs, configDir string) (*Config, error) {
	if len(configDir) == 0 {
		configDir = defaultConfigDir
	}

	pathToStatic := filepath.Join(configDir, configFileName)
	_, err := fs.Stat(pathToStatic)
	switch {
	case os.IsNotExist(err):
		zap.L().Warn("no static config file, using safe defaults", zap.String("path", pathToStatic))
		return safeDefaults(configDir), nil
	case err == nil:
		return loadStaticConfig(fs, pathToStatic)
	default:
		return nil, xerror.EInternalError("failed to stat the static config path", err, zap.String("path", pathToStatic))
	}
}

func loadStaticConfig(fs afero.Fs, path string) (*Config, error) {
	c := &Config{}
	if err := loadAndValidateYAML(fs, path, c); err != nil {
		return nil, err
	}

	c.path = path

	// do extra validation of cross-related fields,
	// all fields (including the private ones!) must be filled.
	if err := c.validate(); err != nil {
		return nil, err
	}

	if len(c.InstanceID) == 0 {
		c.InstanceID = uuid.New().String()
		// make it auto-deploy-friendly
		_ = c.flush(fs)
	}

	return c, nil
}

// validate validates dependent fields, prevents from
// logical errors in configurations.
func (s *Config) validate() error {
	if len(s.LogLevel) == 0 {
		s.LogLevel = "info"
	}

	if len(s.HTTP.ListenAddr) == 0 {
		s.HTTP.ListenAddr = DefaultListenAddr
	}

	refresh := s.GetRefreshInterval()
	persist := s.GetPersistInterval()
	if persist < refresh {
		return xerror.EInvalidConfiguration("tracker.persist_interval must not be shorter than tracker.refresh_interval", "persist_interval")
	}

	if s.Torrent != nil && s.Torrent.ListenPort == 0 {
		s.Torrent.ListenPort = DefaultTorrentPort
	}

	return nil
}

// safeDefaults provides safe static config with paths started with the rootDir
func safeDefaults(rootDir string) *Config {
	return &Config{
		InstanceID: uuid.New().String(),
		path:       filepath.Join(rootDir, configFileName),
		LogLevel:   "debug",
		HTTP: HttpConfig{
			ListenAddr: DefaultListenAddr,
			Prometheus: true,
		},
		State: StateConfig{
			Backend: StateBackendFile,
		},
		Tracker: TrackerConfig{
			RefreshInterval: human.Interval(DefaultRefreshInterval),
			PersistInterval: human.Interval(DefaultPersistInterval),
		},
	}
}

func (s *Config) flush(fs afero.Fs) error {
	bs, _ := yaml.Marshal(s)

	fd, err := fs.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return xerror.WInternalError("config", "failed to open config for writing", err, zap.String("path", s.path))
	}

	defer fd.Close()

	_, _ = fd.Write([]byte("# WARNING\n# This file is partially managed by ratiod.\n# Generated values may be overridden.\n\n"))
	_, err = fd.Write(bs)
	return err
}
