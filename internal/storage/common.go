// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

// Package storage keeps the ratio state in a sqlite database.
package storage

import (
	"embed"
	"net/url"
	"sync"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed db/migrations
var migrations embed.FS

const (
	driverName = "sqlite3"
	// concurrent writers wait for the lock instead of failing with SQLITE_BUSY
	busyTimeoutMs = "5000"
)

type Storage struct {
	// mu guards the db handle against concurrent Shutdown
	mu sync.RWMutex
	db *sqlx.DB
}

// New opens the database at path, creating it if needed,
// and applies the embedded migrations.
func New(path string) (*Storage, error) {
	params := url.Values{}
	params.Set("_busy_timeout", busyTimeoutMs)
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")

	db, err := sqlx.Connect(driverName, "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, xerror.EStorageError("can't open database", err, zap.String("path", path))
	}
	// the state is tiny, a single connection serializes writers
	db.SetMaxOpenConns(1)

	n, err := migrate.Exec(db.DB, driverName, &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       "db/migrations",
	}, migrate.Up)
	if err != nil {
		_ = db.Close()
		return nil, xerror.EStorageError("can't perform migration", err, zap.String("path", path))
	}

	zap.L().Info("database is ready", zap.String("path", path), zap.Int("migrations_applied", n))
	return &Storage{db: db}, nil
}

func (storage *Storage) Shutdown() error {
	storage.mu.Lock()
	defer storage.mu.Unlock()

	if storage.db == nil {
		return nil
	}

	err := storage.db.Close()
	storage.db = nil
	if err != nil {
		return xerror.EStorageError("failed close database", err)
	}
	return nil
}

func (storage *Storage) Running() bool {
	storage.mu.RLock()
	defer storage.mu.RUnlock()
	return storage.db != nil
}
