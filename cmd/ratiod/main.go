// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"

	"github.com/vpnhouse/ratio/internal/httpapi"
	"github.com/vpnhouse/ratio/internal/ratio"
	"github.com/vpnhouse/ratio/internal/runtime"
	"github.com/vpnhouse/ratio/internal/session"
	"github.com/vpnhouse/ratio/internal/settings"
	"github.com/vpnhouse/ratio/internal/storage"
	"github.com/vpnhouse/ratio/pkg/auth"
	"github.com/vpnhouse/ratio/pkg/control"
	"github.com/vpnhouse/ratio/pkg/sentry"
	"github.com/vpnhouse/ratio/pkg/version"
	"github.com/vpnhouse/ratio/pkg/xhttp"
	"go.uber.org/zap"
)

// idleSession stands in for the torrent client when no torrent section is configured.
type idleSession struct{}

func (idleSession) SessionStatus(context.Context) (ratio.SessionStatus, error) {
	return ratio.SessionStatus{}, nil
}

func initServices(runtime *runtime.RatioRuntime) error {
	zap.L().Info("starting ratiod", zap.String("version", version.GetVersion()))
	if err := sentry.ConfigureGlobal(runtime.Settings.Sentry, version.GetVersion(), runtime.Settings.InstanceID); err != nil {
		return err
	}

	var store ratio.ConfigStore
	switch runtime.Settings.StateBackend() {
	case settings.StateBackendSqlite:
		dataStorage, err := storage.New(runtime.Settings.SqlitePath())
		if err != nil {
			return err
		}
		if err := runtime.Services.RegisterService("storage", dataStorage); err != nil {
			return err
		}
		store = dataStorage.RatioStore()
	default:
		store = settings.NewFileStore(runtime.Settings.StateDir())
	}

	var source ratio.SessionStatsSource = idleSession{}
	if runtime.Settings.Torrent != nil {
		torrentSession, err := session.NewTorrent(runtime.Settings.Torrent)
		if err != nil {
			return err
		}
		if err := runtime.Services.RegisterService("torrent", torrentSession); err != nil {
			return err
		}
		source = torrentSession
	} else {
		zap.L().Warn("initServices: no torrent configuration given, session counters stay at zero")
	}

	tracker := ratio.New(source, store, ratio.WithIntervals(
		runtime.Settings.GetRefreshInterval(),
		runtime.Settings.GetPersistInterval(),
	))
	if err := tracker.Enable(); err != nil {
		return err
	}
	if err := runtime.Services.RegisterService("tracker", tracker); err != nil {
		return err
	}

	// note: we do not provide any key here: new JWT key generates
	//  on each restart, so the auth token getting expired.
	adminJWT, err := auth.NewJWTMaster()
	if err != nil {
		return err
	}

	opts := []xhttp.Option{xhttp.WithLogger()}
	if runtime.Settings.HTTP.CORS {
		opts = append(opts, xhttp.WithCORS())
	}
	if runtime.Settings.HTTP.Prometheus {
		// WithMetrics must be declared last
		opts = append(opts, xhttp.WithMetrics())
	}

	hs := xhttp.New(opts...)
	httpapi.NewRatioHandlers(tracker, runtime.Settings, adminJWT, runtime.Events).RegisterHandlers(hs.Router())

	// Startup HTTP API
	if err := hs.Run(runtime.Settings.HTTP.ListenAddr); err != nil {
		return err
	}
	return runtime.Services.RegisterService("httpServer", hs)
}

var cfgDirFlag = flag.String("cfg", "", "path to the configuration directory, leave empty for default")

func main() {
	flag.Parse()

	staticConf, err := settings.LoadStatic(*cfgDirFlag)
	if err != nil {
		panic(err)
	}

	r, err := runtime.New(staticConf, initServices)
	if err != nil {
		panic(err)
	}

	err = control.Exec(r)
	sentry.Flush()
	if err != nil {
		zap.L().Fatal("ratiod terminated", zap.Error(err))
	}
	zap.L().Info("ratiod stopped")
}
