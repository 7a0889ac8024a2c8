// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package xhttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vpnhouse/ratio/pkg/xerror"
)

func TestJSONResponseOK(t *testing.T) {
	w := httptest.NewRecorder()
	JSONResponse(w, func() (interface{}, error) {
		return nil, nil
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"OK"`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestJSONResponseData(t *testing.T) {
	w := httptest.NewRecorder()
	JSONResponse(w, func() (interface{}, error) {
		return map[string]int{"total_upload": 42}, nil
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_upload": 42}`, w.Body.String())
}

func TestJSONResponseError(t *testing.T) {
	w := httptest.NewRecorder()
	JSONResponse(w, func() (interface{}, error) {
		return nil, xerror.EInvalidArgument("bad request", nil)
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(xerror.ErrorResultInvalidArgument))
}

func TestWriteJSONUnsupportedValue(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, make(chan int))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthCheck().
		With("tracker", func() error { return nil }).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok", "checks": {"tracker": "ok"}}`, w.Body.String())

	w = httptest.NewRecorder()
	NewHealthCheck().
		With("tracker", func() error { return errors.New("tracker is not running") }).
		With("storage", func() error { return nil }).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status": "fail", "checks": {"tracker": "tracker is not running", "storage": "ok"}}`, w.Body.String())
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ExtractToken(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	_, ok = BearerToken(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	token, ok := ExtractToken(r)
	assert.True(t, ok)
	assert.Equal(t, "abc.def.ghi", token)

	r = httptest.NewRequest(http.MethodGet, "/watch?access_token=jkl.mno", nil)
	_, ok = BearerToken(r)
	assert.False(t, ok)
	token, ok = ExtractToken(r)
	assert.True(t, ok)
	assert.Equal(t, "jkl.mno", token)
}

func TestServerRun(t *testing.T) {
	s := New(WithLogger())
	s.Router().Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, "pong")
	})

	require.NoError(t, s.Run("127.0.0.1:0"))
	t.Cleanup(func() { _ = s.Shutdown() })
	require.True(t, s.Running())
	assert.Error(t, s.Run("127.0.0.1:0"))

	resp, err := http.Get("http://" + s.Addr() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, `"pong"`, string(body))

	resp, err = http.Get("http://" + s.Addr() + "/missing")
	require.NoError(t, err)
	var reply xerror.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, xerror.ErrorResultNotFound, reply.Result)

	require.NoError(t, s.Shutdown())
	assert.False(t, s.Running())
	assert.Empty(t, s.Addr())
}
