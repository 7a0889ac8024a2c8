// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package settings

/*
 Settings are kept in two places of the same directory.
 The static configuration is a typical config file, loaded once
 on startup and filled with safe defaults if absent.
 The ratio state is the persisted record of the lifetime totals,
 it is written by the tracker periodically and patched by the API.
 The RatioStore interface hides reads and writes of the state:
 the YAML file backend lives in ratio.go, the sqlite one in internal/storage.
*/

import (
	"strings"

	"github.com/spf13/afero"
	"github.com/vpnhouse/ratio/pkg/validator"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir = "/opt/vpnhouse/ratio/"
	configFileName   = "config.yaml"

	stateFileName   = "ratio.yaml"
	stateSqliteName = "ratio.sqlite3"

	StateBackendFile   = "file"
	StateBackendSqlite = "sqlite"
)

// loadAndValidateYAML decodes the file into t, a pointer to the config struct.
// Unknown keys are rejected to catch typos in hand-written configs.
func loadAndValidateYAML(fs afero.Fs, path string, t interface{}) error {
	fd, err := fs.Open(path)
	if err != nil {
		return xerror.EInternalError("failed to open config file", err, zap.String("path", path))
	}
	defer fd.Close()

	dec := yaml.NewDecoder(fd)
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil {
		return xerror.EInvalidArgument("failed to unmarshal config", err, zap.String("path", path))
	}

	if err := validator.ValidateStruct(t); err != nil {
		fields := validator.FieldErrors(err)
		return xerror.EInvalidField("config validation failed", strings.Join(fields, ","), err, zap.String("path", path))
	}

	return nil
}
