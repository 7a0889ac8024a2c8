// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"github.com/vpnhouse/ratio/pkg/xhttp"
	"go.uber.org/zap"
)

const (
	writeTimeout = 5 * time.Second
	slotTimeout  = 100 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the API is protected by the bearer token, not by the origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Watch implements handler for GET /api/ratio/watch:
// the current snapshot is sent on connect, then one after every refresh.
func (instance *RatioAPI) Watch(w http.ResponseWriter, r *http.Request) {
	if !instance.tracker.Running() {
		xhttp.WriteJsonError(w, xerror.EUnavailable("ratio tracker is not running", nil))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), slotTimeout)
	release, err := instance.watchers.Acquire(ctx, clientAddr(r))
	cancel()
	if err != nil {
		xhttp.WriteJsonError(w, err)
		return
	}
	defer release()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied to the client
		zap.L().Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, unsubscribe := instance.tracker.Subscribe()
	defer unsubscribe()

	// reading is required to process control frames,
	// any error means the client is gone
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := writeSnapshot(conn, instance.tracker.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				zap.L().Debug("failed to write snapshot", zap.Error(err))
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(snap)
}
