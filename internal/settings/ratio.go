// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spf13/afero"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	KeyPersistent    = "persistent"
	KeyTotalDownload = "total_download"
	KeyTotalUpload   = "total_upload"
)

// RatioConfig is the persisted ratio state.
// Keys other than the three known ones are kept verbatim in Extra.
type RatioConfig struct {
	Persistent    bool                   `yaml:"persistent"`
	TotalDownload int64                  `yaml:"total_download"`
	TotalUpload   int64                  `yaml:"total_upload"`
	Extra         map[string]interface{} `yaml:",inline"`
}

// RatioStore loads and saves the ratio state.
type RatioStore interface {
	Load() (RatioConfig, error)
	Save(RatioConfig) error
}

func DefaultRatioConfig() RatioConfig {
	return RatioConfig{
		Persistent:    true,
		TotalDownload: 0,
		TotalUpload:   0,
	}
}

// Copy returns a deep-enough copy: the Extra map is duplicated,
// its values are shared.
func (c RatioConfig) Copy() RatioConfig {
	out := c
	if c.Extra != nil {
		out.Extra = make(map[string]interface{}, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// AsMap returns the configuration as a flat key-value mapping.
func (c RatioConfig) AsMap() map[string]interface{} {
	m := make(map[string]interface{}, len(c.Extra)+3)
	for k, v := range c.Extra {
		m[k] = v
	}
	m[KeyPersistent] = c.Persistent
	m[KeyTotalDownload] = c.TotalDownload
	m[KeyTotalUpload] = c.TotalUpload
	return m
}

// Merge applies patch key by key with overwrite semantics.
// Values are never rejected: persistent follows the truthiness of the
// given value, totals are truncated to whole bytes, unknown keys
// are stored as given.
func (c *RatioConfig) Merge(patch map[string]interface{}) {
	next := c.Copy()
	for key, value := range patch {
		value = normalizeValue(value)
		switch key {
		case KeyPersistent:
			next.Persistent = truthy(value)
		case KeyTotalDownload:
			next.TotalDownload = toTotal(key, value, next.TotalDownload)
		case KeyTotalUpload:
			next.TotalUpload = toTotal(key, value, next.TotalUpload)
		default:
			if next.Extra == nil {
				next.Extra = make(map[string]interface{})
			}
			next.Extra[key] = value
		}
	}

	*c = next
}

func (c RatioConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.AsMap())
}

func (c *RatioConfig) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return err
	}

	next := DefaultRatioConfig()
	next.Merge(m)
	*c = next
	return nil
}

// normalizeValue turns JSON numbers into plain Go numbers at any depth,
// so they are stored as numbers, not strings.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	}
	return true
}

// toTotal truncates v to whole bytes, a value that is not a number
// keeps the previous total.
func toTotal(key string, v interface{}, prev int64) int64 {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t)
		}
	case float64:
		if f := math.Trunc(t); f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return toTotal(key, f, prev)
		}
	}

	zap.L().Warn("ignoring non-numeric ratio total", zap.String("key", key), zap.Any("value", v))
	return prev
}

// FileStore keeps the ratio state in a YAML file.
type FileStore struct {
	fs   afero.Fs
	path string

	// mu serializes writers
	mu sync.Mutex
}

// NewFileStore creates a store for <dir>/ratio.yaml on the OS filesystem.
func NewFileStore(dir string) *FileStore {
	return newFileStore(afero.NewOsFs(), dir)
}

func newFileStore(fs afero.Fs, dir string) *FileStore {
	if len(dir) == 0 {
		dir = defaultConfigDir
	}
	return &FileStore{
		fs:   fs,
		path: filepath.Join(dir, stateFileName),
	}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state, a missing or empty file yields defaults.
func (s *FileStore) Load() (RatioConfig, error) {
	conf := DefaultRatioConfig()

	fd, err := s.fs.Open(s.path)
	switch {
	case os.IsNotExist(err):
		zap.L().Debug("no ratio state file, using defaults", zap.String("path", s.path))
		return conf, nil
	case err != nil:
		return RatioConfig{}, xerror.EStorageError("failed to open the ratio state", err, zap.String("path", s.path))
	}
	defer fd.Close()

	if err := yaml.NewDecoder(fd).Decode(&conf); err != nil {
		if errors.Is(err, io.EOF) {
			zap.L().Warn("ratio state file is empty, using defaults", zap.String("path", s.path))
			return DefaultRatioConfig(), nil
		}
		return RatioConfig{}, xerror.EStorageError("failed to unmarshal the ratio state", err, zap.String("path", s.path))
	}

	return conf, nil
}

// Save writes the state into a temporary file and renames it over the old one.
func (s *FileStore) Save(conf RatioConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, err := yaml.Marshal(conf)
	if err != nil {
		return xerror.EStorageError("failed to marshal the ratio state", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return xerror.EStorageError("failed to create directory for the ratio state", err, zap.String("path", s.path))
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, bs, 0600); err != nil {
		return xerror.EStorageError("failed to write the ratio state", err, zap.String("path", tmp))
	}

	if err := s.fs.Rename(tmp, s.path); err != nil {
		return xerror.EStorageError("failed to replace the ratio state", err, zap.String("path", s.path))
	}

	return nil
}
