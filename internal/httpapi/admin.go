// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/vpnhouse/ratio/pkg/control"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"github.com/vpnhouse/ratio/pkg/xhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type logLevelRequest struct {
	Level string `json:"level"`
}

// SetLogLevel implements handler for PUT /api/ratio/log_level
func (instance *RatioAPI) SetLogLevel(w http.ResponseWriter, r *http.Request) {
	xhttp.JSONResponse(w, func() (interface{}, error) {
		var req logLevelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, xerror.EInvalidArgument("failed to unmarshal request", err)
		}
		if _, err := zapcore.ParseLevel(req.Level); err != nil {
			return nil, xerror.EInvalidField("unknown log level", "level", err)
		}

		return nil, instance.emit(control.EventSetLogLevel, req.Level)
	})
}

// Restart implements handler for POST /api/ratio/restart,
// the reply is sent before the services go down.
func (instance *RatioAPI) Restart(w http.ResponseWriter, r *http.Request) {
	xhttp.JSONResponse(w, func() (interface{}, error) {
		zap.L().Info("restart requested", zap.String("client", clientAddr(r)))
		return nil, instance.emit(control.EventRestart, nil)
	})
}

func (instance *RatioAPI) emit(t control.EventType, info interface{}) error {
	if instance.events == nil {
		return xerror.EUnavailable("runtime control is not available", nil, zap.Stringer("event", t))
	}
	if !instance.events.Emit(t, info) {
		return xerror.EUnavailable("runtime is busy, try again later", nil, zap.Stringer("event", t))
	}
	return nil
}
