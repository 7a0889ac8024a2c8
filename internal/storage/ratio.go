// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package storage

import (
	"encoding/json"
	"strings"

	"github.com/vpnhouse/ratio/internal/settings"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
)

// Every key of the ratio config is a row, values are JSON-encoded.
const (
	selectRatioConfig = `SELECT name, value FROM ratio_config`
	upsertRatioConfig = `
		INSERT INTO ratio_config(name, value) VALUES ($1, $2)
		ON CONFLICT(name)
			DO UPDATE
			SET value = EXCLUDED.value`
	deleteRatioConfig = `DELETE FROM ratio_config`
)

type ratioRow struct {
	Name  string `db:"name"`
	Value string `db:"value"`
}

// RatioStore returns the sqlite-backed settings.RatioStore.
func (storage *Storage) RatioStore() settings.RatioStore {
	return &ratioStore{storage: storage}
}

type ratioStore struct {
	storage *Storage
}

func (s *ratioStore) Load() (settings.RatioConfig, error) {
	s.storage.mu.RLock()
	defer s.storage.mu.RUnlock()

	if s.storage.db == nil {
		return settings.RatioConfig{}, xerror.EUnavailable("database is closed", nil)
	}

	var rows []ratioRow
	if err := s.storage.db.Select(&rows, selectRatioConfig); err != nil {
		return settings.RatioConfig{}, xerror.EStorageError("failed to query the ratio config", err)
	}

	conf := settings.DefaultRatioConfig()
	if len(rows) == 0 {
		zap.L().Debug("no ratio config stored, using defaults")
		return conf, nil
	}

	patch := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		var v interface{}
		dec := json.NewDecoder(strings.NewReader(row.Value))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return settings.RatioConfig{}, xerror.EStorageError("failed to decode the ratio config value", err, zap.String("name", row.Name))
		}
		patch[row.Name] = v
	}

	conf.Merge(patch)
	return conf, nil
}

// Save replaces the whole stored config in a single transaction.
func (s *ratioStore) Save(conf settings.RatioConfig) error {
	s.storage.mu.RLock()
	defer s.storage.mu.RUnlock()

	if s.storage.db == nil {
		return xerror.EUnavailable("database is closed", nil)
	}

	tx, err := s.storage.db.Beginx()
	if err != nil {
		return xerror.EStorageError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(deleteRatioConfig); err != nil {
		return xerror.EStorageError("failed to clear the ratio config", err)
	}

	for name, value := range conf.AsMap() {
		bs, err := json.Marshal(value)
		if err != nil {
			return xerror.EStorageError("failed to encode the ratio config value", err, zap.String("name", name))
		}
		if _, err := tx.Exec(upsertRatioConfig, name, string(bs)); err != nil {
			return xerror.EStorageError("failed to store the ratio config value", err, zap.String("name", name))
		}
	}

	if err := tx.Commit(); err != nil {
		return xerror.EStorageError("failed to commit the ratio config", err)
	}
	return nil
}
