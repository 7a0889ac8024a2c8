// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/vpnhouse/ratio/pkg/xerror"
	"github.com/vpnhouse/ratio/pkg/xhttp"
)

// GetConfig implements handler for GET /api/ratio/config
func (instance *RatioAPI) GetConfig(w http.ResponseWriter, r *http.Request) {
	xhttp.JSONResponse(w, func() (interface{}, error) {
		return instance.tracker.GetConfig(), nil
	})
}

// SetConfig implements handler for PATCH /api/ratio/config,
// the body is a JSON object merged into the config.
func (instance *RatioAPI) SetConfig(w http.ResponseWriter, r *http.Request) {
	xhttp.JSONResponse(w, func() (interface{}, error) {
		patch, err := decodePatch(r.Body)
		if err != nil {
			return nil, err
		}

		if err := instance.tracker.SetConfig(patch); err != nil {
			return nil, err
		}
		return instance.tracker.GetConfig(), nil
	})
}

// GetRatioAndTotals implements handler for GET /api/ratio/totals
func (instance *RatioAPI) GetRatioAndTotals(w http.ResponseWriter, r *http.Request) {
	xhttp.JSONResponse(w, func() (interface{}, error) {
		return instance.tracker.RatioAndTotals(), nil
	})
}

// ResetRatio implements handler for POST /api/ratio/reset
func (instance *RatioAPI) ResetRatio(w http.ResponseWriter, r *http.Request) {
	xhttp.JSONResponse(w, func() (interface{}, error) {
		return nil, instance.tracker.ResetRatio()
	})
}

// GetSnapshot implements handler for GET /api/ratio/snapshot
func (instance *RatioAPI) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	xhttp.JSONResponse(w, func() (interface{}, error) {
		return instance.tracker.Snapshot(), nil
	})
}

func decodePatch(body io.Reader) (map[string]interface{}, error) {
	var patch map[string]interface{}
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&patch); err != nil {
		return nil, xerror.EInvalidArgument("failed to unmarshal request", err)
	}
	if patch == nil {
		return nil, xerror.EInvalidArgument("config object expected", nil)
	}
	return patch, nil
}
