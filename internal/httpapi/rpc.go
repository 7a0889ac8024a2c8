// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vpnhouse/ratio/pkg/xerror"
	"github.com/vpnhouse/ratio/pkg/xhttp"
	"go.uber.org/zap"
)

const rpcNamespace = "ratio."

const (
	MethodSetConfig         = "set_config"
	MethodGetConfig         = "get_config"
	MethodGetRatioAndTotals = "get_ratio_and_totals"
	MethodResetRatio        = "reset_ratio"
)

type RPCRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// RPCResponse carries either a result or an error,
// the error is encoded the same way as in the REST handlers.
type RPCResponse struct {
	ID     json.RawMessage  `json:"id"`
	Result interface{}      `json:"result"`
	Error  *xerror.Response `json:"error"`
}

// RPC implements handler for POST /api/ratio/rpc
func (instance *RatioAPI) RPC(w http.ResponseWriter, r *http.Request) {
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		xhttp.WriteJsonError(w, xerror.EInvalidArgument("failed to unmarshal request", err))
		return
	}

	resp := RPCResponse{ID: req.ID}
	result, err := instance.dispatch(req.Method, req.Params)
	if err != nil {
		_, resp.Error = xerror.ErrorToResponse(err)
	} else {
		resp.Result = result
	}

	xhttp.WriteJSON(w, http.StatusOK, resp)
}

func (instance *RatioAPI) dispatch(method string, params []json.RawMessage) (interface{}, error) {
	zap.L().Debug("rpc call", zap.String("method", method), zap.Int("params", len(params)))

	switch strings.TrimPrefix(method, rpcNamespace) {
	case MethodSetConfig:
		if len(params) != 1 {
			return nil, xerror.EInvalidArgument("set_config expects a single config object", nil)
		}
		patch, err := decodePatch(bytes.NewReader(params[0]))
		if err != nil {
			return nil, err
		}
		return nil, instance.tracker.SetConfig(patch)
	case MethodGetConfig:
		return instance.tracker.GetConfig(), nil
	case MethodGetRatioAndTotals:
		return instance.tracker.RatioAndTotals(), nil
	case MethodResetRatio:
		return nil, instance.tracker.ResetRatio()
	default:
		return nil, xerror.EEntryNotFound("unknown method", nil, zap.String("method", method))
	}
}
