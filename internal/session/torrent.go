// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/vpnhouse/ratio/internal/ratio"
	"github.com/vpnhouse/ratio/internal/settings"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Torrent reports the wire totals of a running BitTorrent client.
type Torrent struct {
	mu     sync.RWMutex
	client *torrent.Client
}

// NewTorrent starts the client and adds every configured torrent to it.
// Torrents are downloaded in full and seeded if configured so.
func NewTorrent(config *settings.TorrentConfig) (*Torrent, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = config.DataDir
	cfg.ListenPort = config.ListenPort
	cfg.Seed = config.Seed
	cfg.NoUpload = config.NoUpload

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, xerror.EInternalError("failed to start torrent client", err,
			zap.String("data_dir", config.DataDir), zap.Int("port", config.ListenPort))
	}

	src := &Torrent{client: client}

	for _, path := range config.Files {
		t, err := client.AddTorrentFromFile(path)
		if err != nil {
			_ = src.Shutdown()
			return nil, xerror.EInvalidArgument("failed to add torrent file", err, zap.String("path", path))
		}
		go downloadAll(t)
	}

	for _, uri := range config.Magnets {
		t, err := client.AddMagnet(uri)
		if err != nil {
			_ = src.Shutdown()
			return nil, xerror.EInvalidArgument("failed to add magnet link", err, zap.String("uri", uri))
		}
		go downloadAll(t)
	}

	zap.L().Info("torrent client started",
		zap.String("data_dir", config.DataDir),
		zap.Int("port", config.ListenPort),
		zap.Int("torrents", len(config.Files)+len(config.Magnets)))
	return src, nil
}

func downloadAll(t *torrent.Torrent) {
	select {
	case <-t.GotInfo():
	case <-t.Closed():
		return
	}
	zap.L().Debug("got torrent info", zap.String("name", t.Name()))
	t.DownloadAll()
}

// SessionStatus returns bytes received and sent since the client was started.
func (s *Torrent) SessionStatus(ctx context.Context) (ratio.SessionStatus, error) {
	if err := ctx.Err(); err != nil {
		return ratio.SessionStatus{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return ratio.SessionStatus{}, xerror.EUnavailable("torrent client is closed", nil)
	}

	stats := s.client.Stats()
	return ratio.SessionStatus{
		TotalDownload: stats.BytesRead.Int64(),
		TotalUpload:   stats.BytesWritten.Int64(),
	}, nil
}

func (s *Torrent) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}

	errs := s.client.Close()
	s.client = nil
	return multierr.Combine(errs...)
}

func (s *Torrent) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}
