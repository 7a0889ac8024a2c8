// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package xhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestLogger logs every request once it is served.
// Read-only requests go to the debug level, polling clients
// and scrapers would flood the log otherwise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// the wrapper keeps http.Hijacker for the websocket upgrade
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			// hijacked or nothing written
			status = http.StatusOK
		}

		log := zap.L().Info
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			log = zap.L().Debug
		}
		log("request served",
			zap.String("remote", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("t", time.Since(start)),
		)
	})
}
