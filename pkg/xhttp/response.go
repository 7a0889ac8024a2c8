// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package xhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
)

const contentTypeJSON = "application/json"

// JSONResponse calls the closure and responds with its data or error,
// a nil result is written as "OK".
func JSONResponse(w http.ResponseWriter, closure func() (interface{}, error)) {
	data, err := closure()
	if err != nil {
		WriteJsonError(w, err)
		return
	}
	if data == nil {
		data = "OK"
	}
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSON encodes v before touching the response,
// so an encoding failure is still reported with a proper status.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		WriteJsonError(w, xerror.EInternalError("failed to marshal response", err, zap.String("type", fmt.Sprintf("%T", v))))
		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)
	if _, err := w.Write(bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
		zap.L().Debug("can't write response", zap.Error(err))
	}
}

func WriteJsonError(w http.ResponseWriter, err error) {
	if err == nil {
		zap.L().Error("writeError: nil error passed")
		return
	}

	code, body := xerror.ErrorToHttpResponse(err)
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		zap.L().Debug("can't write response", zap.Error(err))
	}
}
