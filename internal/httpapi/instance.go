// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vpnhouse/ratio/internal/ratio"
	"github.com/vpnhouse/ratio/internal/settings"
	"github.com/vpnhouse/ratio/pkg/auth"
	"github.com/vpnhouse/ratio/pkg/control"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"github.com/vpnhouse/ratio/pkg/xhttp"
	"github.com/vpnhouse/ratio/pkg/xlimits"
)

const (
	apiPrefix = "/api/ratio"
	authPath  = apiPrefix + "/auth"
)

// EventEmitter passes daemon-wide requests to the runtime loop.
type EventEmitter interface {
	Emit(t control.EventType, info interface{}) bool
}

type RatioAPI struct {
	tracker  *ratio.Tracker
	settings *settings.Config
	adminJWT *auth.JWTMaster
	events   EventEmitter

	// failed logins per client address
	authFailures *xlimits.Recent
	// open watch streams per client address
	watchers *xlimits.Blocker
}

func NewRatioHandlers(tracker *ratio.Tracker, settings *settings.Config, adminJWT *auth.JWTMaster, events EventEmitter) *RatioAPI {
	return &RatioAPI{
		tracker:      tracker,
		settings:     settings,
		adminJWT:     adminJWT,
		events:       events,
		authFailures: xlimits.NewRecent(settings.GetAuthAttempts(), settings.GetAuthLockout()),
		watchers:     xlimits.NewBlocker(settings.GetMaxWatchers()),
	}
}

func (instance *RatioAPI) RegisterHandlers(r chi.Router) {
	r.Handle("/healthz", xhttp.NewHealthCheck().With("tracker", instance.trackerRunning))

	r.Route(apiPrefix, func(r chi.Router) {
		r.Use(instance.adminAuthMiddleware)

		r.Get("/auth", instance.AdminDoAuth)
		r.Post("/rpc", instance.RPC)
		r.Get("/config", instance.GetConfig)
		r.Patch("/config", instance.SetConfig)
		r.Get("/totals", instance.GetRatioAndTotals)
		r.Post("/reset", instance.ResetRatio)
		r.Get("/snapshot", instance.GetSnapshot)
		r.Get("/watch", instance.Watch)
		r.Put("/log_level", instance.SetLogLevel)
		r.Post("/restart", instance.Restart)
	})
}

func (instance *RatioAPI) trackerRunning() error {
	if !instance.tracker.Running() {
		return xerror.WUnavailable("healthcheck", "ratio tracker is not running", nil)
	}
	return nil
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
