// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

// Package ratio keeps lifetime upload and download totals of a
// BitTorrent session and the share ratio derived from them.
//
// Totals are the sum of a baseline, restored from the state store
// on Enable, and the counters of the current session which are polled
// on every refresh tick. The totals are written back to the store
// on every persist tick, on reset and on Disable.
package ratio

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vpnhouse/ratio/internal/settings"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
)

const rateWindow = 10

// SessionStatus holds cumulative byte counters of the current session only.
type SessionStatus struct {
	TotalDownload int64
	TotalUpload   int64
}

// SessionStatsSource is queried for the current session counters
// on every refresh tick.
type SessionStatsSource interface {
	SessionStatus(ctx context.Context) (SessionStatus, error)
}

// ConfigStore loads and saves the persisted ratio state.
type ConfigStore interface {
	Load() (settings.RatioConfig, error)
	Save(settings.RatioConfig) error
}

// Totals is a pair of byte counters.
type Totals struct {
	Download int64 `json:"download"`
	Upload   int64 `json:"upload"`
}

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	Enabled    bool    `json:"enabled"`
	Persistent bool    `json:"persistent"`
	Totals     Totals  `json:"totals"`
	Baseline   Totals  `json:"baseline"`
	Ratio      float64 `json:"ratio"`

	// bytes per second over the last refresh ticks
	DownloadRate int64 `json:"download_rate"`
	UploadRate   int64 `json:"upload_rate"`

	Updated time.Time `json:"updated"`
}

type Option func(t *Tracker)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithIntervals overrides the refresh and persist periods,
// zero values keep the defaults.
func WithIntervals(refresh, persist time.Duration) Option {
	return func(t *Tracker) {
		if refresh > 0 {
			t.refreshInterval = refresh
		}
		if persist > 0 {
			t.persistInterval = persist
		}
	}
}

// WithRegisterer sets the registry for the tracker gauges,
// nil disables the registration.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Tracker) {
		t.registerer = reg
	}
}

type Tracker struct {
	source SessionStatsSource
	store  ConfigStore

	clock           clock.Clock
	refreshInterval time.Duration
	persistInterval time.Duration
	registerer      prometheus.Registerer
	metrics         *metrics

	// lifecycle serializes Enable and Disable
	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc

	// lock guards everything below
	lock     sync.Mutex
	enabled  bool
	config   settings.RatioConfig
	baseline Totals
	live     Totals

	lastRefresh  time.Time
	uploadRate   *rateMeter
	downloadRate *rateMeter

	subs   map[int]chan Snapshot
	nextID int
}

func New(source SessionStatsSource, store ConfigStore, opts ...Option) *Tracker {
	t := &Tracker{
		source:          source,
		store:           store,
		clock:           clock.New(),
		refreshInterval: settings.DefaultRefreshInterval,
		persistInterval: settings.DefaultPersistInterval,
		registerer:      prometheus.DefaultRegisterer,
		config:          settings.DefaultRatioConfig(),
		uploadRate:      newRateMeter(rateWindow),
		downloadRate:    newRateMeter(rateWindow),
		subs:            make(map[int]chan Snapshot),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.metrics = newMetrics(t.registerer)
	return t
}

// Enable restores the persisted totals and starts the periodic work.
// Enabling an enabled tracker does nothing.
func (t *Tracker) Enable() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.lock.Lock()
	if t.enabled {
		t.lock.Unlock()
		return nil
	}

	conf, err := t.store.Load()
	if err != nil {
		t.lock.Unlock()
		return err
	}

	t.config = conf
	if conf.Persistent {
		zap.L().Info("restoring ratio values",
			zap.Int64("total_download", conf.TotalDownload),
			zap.Int64("total_upload", conf.TotalUpload))
		t.baseline = Totals{Download: conf.TotalDownload, Upload: conf.TotalUpload}
	} else {
		t.baseline = Totals{}
	}
	t.live = t.baseline
	t.lastRefresh = time.Time{}
	t.uploadRate.Reset()
	t.downloadRate.Reset()
	t.enabled = true
	t.lock.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	// tickers are created before the first refresh so a clock
	// advanced right after Enable always reaches them
	refreshTicker := t.clock.Ticker(t.refreshInterval)
	persistTicker := t.clock.Ticker(t.persistInterval)

	t.refresh(ctx)
	go t.worker(ctx, refreshTicker, persistTicker)

	zap.L().Info("ratio tracker enabled",
		zap.Bool("persistent", conf.Persistent),
		zap.Duration("refresh_interval", t.refreshInterval),
		zap.Duration("persist_interval", t.persistInterval))
	return nil
}

// Disable stops the periodic work and writes the totals one last time.
// Disabling a disabled tracker does nothing.
func (t *Tracker) Disable() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if !t.Running() {
		return nil
	}

	zap.L().Debug("sending stop signal to the ratio tracker worker")
	close(t.stop)
	t.cancel()
	<-t.done

	t.lock.Lock()
	defer t.lock.Unlock()

	err := t.persist()
	t.enabled = false
	t.live = Totals{}
	t.baseline = Totals{}
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}

	zap.L().Info("ratio tracker disabled")
	return err
}

func (t *Tracker) Running() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.enabled
}

func (t *Tracker) Shutdown() error {
	return t.Disable()
}

func (t *Tracker) worker(ctx context.Context, refreshTicker, persistTicker *clock.Ticker) {
	defer func() {
		refreshTicker.Stop()
		persistTicker.Stop()
		close(t.done)
	}()

	for {
		select {
		case <-t.stop:
			return
		case <-refreshTicker.C:
			t.refresh(ctx)
		case <-persistTicker.C:
			t.lock.Lock()
			_ = t.persist()
			t.lock.Unlock()
		}
	}
}

// refresh recomputes the live totals from the session counters.
// A failed query skips the tick.
func (t *Tracker) refresh(ctx context.Context) {
	session, err := t.source.SessionStatus(ctx)
	if err != nil {
		zap.L().Warn("failed to query session status", zap.Error(err))
		return
	}

	now := t.clock.Now()

	t.lock.Lock()
	if !t.enabled {
		t.lock.Unlock()
		return
	}

	t.live = Totals{
		Download: t.baseline.Download + session.TotalDownload,
		Upload:   t.baseline.Upload + session.TotalUpload,
	}

	t.downloadRate.Observe(now, session.TotalDownload)
	t.uploadRate.Observe(now, session.TotalUpload)
	t.lastRefresh = now

	t.metrics.update(t.live.Upload, t.live.Download)
	snap := t.snapshotLocked()
	t.lock.Unlock()

	t.publish(snap)
}

// persist writes the state into the store, must be called with the lock held.
// Totals are copied into the state only in the persistent mode.
func (t *Tracker) persist() error {
	zap.L().Debug("updating ratio config with current totals", zap.Bool("persistent", t.config.Persistent))
	if t.config.Persistent {
		t.config.TotalDownload = t.live.Download
		t.config.TotalUpload = t.live.Upload
	}

	if err := t.store.Save(t.config.Copy()); err != nil {
		t.metrics.persistFailures.Inc()
		return err
	}
	return nil
}

// SetConfig merges patch into the configuration and saves it.
func (t *Tracker) SetConfig(patch map[string]interface{}) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.enabled {
		return xerror.EUnavailable("ratio tracker is disabled", nil)
	}

	t.config.Merge(patch)
	return t.store.Save(t.config.Copy())
}

func (t *Tracker) GetConfig() settings.RatioConfig {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.config.Copy()
}

func (t *Tracker) RatioAndTotals() Report {
	t.lock.Lock()
	defer t.lock.Unlock()
	return NewReport(t.live.Upload, t.live.Download)
}

// ResetRatio zeroes the live totals and persists them.
// The session baseline is kept, so the next refresh adds
// the current session counters on top of the baseline again.
func (t *Tracker) ResetRatio() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.enabled {
		return xerror.EUnavailable("ratio tracker is disabled", nil)
	}

	zap.L().Info("resetting ratio",
		zap.Int64("total_download", t.live.Download),
		zap.Int64("total_upload", t.live.Upload))
	t.live = Totals{}
	t.metrics.update(0, 0)
	return t.persist()
}

func (t *Tracker) Snapshot() Snapshot {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		Enabled:      t.enabled,
		Persistent:   t.config.Persistent,
		Totals:       t.live,
		Baseline:     t.baseline,
		Ratio:        NewReport(t.live.Upload, t.live.Download).Ratio,
		DownloadRate: t.downloadRate.Rate(),
		UploadRate:   t.uploadRate.Rate(),
		Updated:      t.lastRefresh,
	}
}

// Subscribe returns a channel receiving a snapshot after every refresh.
// Updates are dropped while the receiver is busy. The channel is closed
// by the returned function or by Disable, a disabled tracker returns
// a closed channel.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.enabled {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		t.lock.Lock()
		defer t.lock.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
}

func (t *Tracker) publish(snap Snapshot) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
