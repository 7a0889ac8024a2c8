// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vpnhouse/ratio/internal/ratio"
	"github.com/vpnhouse/ratio/internal/session"
	"github.com/vpnhouse/ratio/internal/settings"
	"github.com/vpnhouse/ratio/pkg/auth"
	"github.com/vpnhouse/ratio/pkg/control"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"gopkg.in/hlandau/passlib.v1"
)

type testEnv struct {
	server  *httptest.Server
	tracker *ratio.Tracker
	counter *session.Counter
	clock   *clock.Mock
	events  *control.EventManager
}

func newTestEnv(t *testing.T, config *settings.Config) *testEnv {
	counter := &session.Counter{}
	mock := clock.NewMock()
	tracker := ratio.New(counter, settings.NewFileStore(t.TempDir()),
		ratio.WithClock(mock),
		ratio.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, tracker.Enable())

	jwtMaster, err := auth.NewJWTMaster()
	require.NoError(t, err)

	events := control.NewEventManager()
	r := chi.NewRouter()
	NewRatioHandlers(tracker, config, jwtMaster, events).RegisterHandlers(r)
	server := httptest.NewServer(r)

	t.Cleanup(func() {
		server.Close()
		_ = tracker.Shutdown()
	})

	return &testEnv{server: server, tracker: tracker, counter: counter, clock: mock, events: events}
}

func (env *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	var rd io.Reader
	if len(body) > 0 {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, env.server.URL+path, rd)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	bs, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, bs
}

func (env *testEnv) rpc(t *testing.T, method string, params ...interface{}) RPCResponse {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{"id": 7, "method": method, "params": params})
	require.NoError(t, err)

	code, bs := env.do(t, http.MethodPost, "/api/ratio/rpc", string(body))
	require.Equal(t, http.StatusOK, code, string(bs))

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(bs, &resp))
	assert.JSONEq(t, "7", string(resp.ID))
	return resp
}

func assertNoRPCError(t *testing.T, resp RPCResponse) {
	assert.Nil(t, resp.Error)
}

func TestTotals(t *testing.T) {
	env := newTestEnv(t, &settings.Config{})
	env.counter.AddUpload(3 << 30)
	env.counter.AddDownload(2 << 30)
	env.clock.Add(time.Second)

	require.Eventually(t, func() bool {
		return env.tracker.RatioAndTotals() == ratio.Report{Ratio: 1.5, Upload: 3, Download: 2, Unit: ratio.UnitGiB}
	}, time.Second, 5*time.Millisecond)

	code, bs := env.do(t, http.MethodGet, "/api/ratio/totals", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[1.5, 3, 2, "GiB"]`, string(bs))
}

func TestConfigAndReset(t *testing.T) {
	env := newTestEnv(t, &settings.Config{})

	code, bs := env.do(t, http.MethodGet, "/api/ratio/config", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"persistent": true, "total_download": 0, "total_upload": 0}`, string(bs))

	code, bs = env.do(t, http.MethodPatch, "/api/ratio/config", `{"persistent": false, "label": "box"}`)
	require.Equal(t, http.StatusOK, code, string(bs))
	assert.JSONEq(t, `{"persistent": false, "total_download": 0, "total_upload": 0, "label": "box"}`, string(bs))

	code, _ = env.do(t, http.MethodPatch, "/api/ratio/config", `{"total_upload": "lots"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPatch, "/api/ratio/config", `[1, 2]`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, bs = env.do(t, http.MethodPost, "/api/ratio/reset", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, `"OK"`, string(bs))

	code, bs = env.do(t, http.MethodGet, "/api/ratio/snapshot", "")
	require.Equal(t, http.StatusOK, code)
	var snap ratio.Snapshot
	require.NoError(t, json.Unmarshal(bs, &snap))
	assert.True(t, snap.Enabled)
	assert.False(t, snap.Persistent)
}

func TestRPC(t *testing.T) {
	env := newTestEnv(t, &settings.Config{})

	resp := env.rpc(t, "ratio.get_ratio_and_totals")
	assertNoRPCError(t, resp)
	bs, _ := json.Marshal(resp.Result)
	assert.JSONEq(t, `[0, 0, 0, "GiB"]`, string(bs))

	resp = env.rpc(t, "set_config", map[string]interface{}{"total_upload": 10, "note": "x"})
	assertNoRPCError(t, resp)
	assert.Nil(t, resp.Result)

	resp = env.rpc(t, "get_config")
	bs, _ = json.Marshal(resp.Result)
	assert.JSONEq(t, `{"persistent": true, "total_download": 0, "total_upload": 10, "note": "x"}`, string(bs))

	resp = env.rpc(t, "reset_ratio")
	assertNoRPCError(t, resp)

	resp = env.rpc(t, "set_config")
	require.NotNil(t, resp.Error)
	assert.Equal(t, xerror.ErrorResultInvalidArgument, resp.Error.Result)

	resp = env.rpc(t, "ratio.format_disk")
	require.NotNil(t, resp.Error)
	assert.Equal(t, xerror.ErrorResultNotFound, resp.Error.Result)

	code, _ := env.do(t, http.MethodPost, "/api/ratio/rpc", "{")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, &settings.Config{})

	code, _ := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)

	require.NoError(t, env.tracker.Disable())
	code, _ = env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestAuth(t *testing.T) {
	hash, err := passlib.Hash("secret")
	require.NoError(t, err)

	env := newTestEnv(t, &settings.Config{
		AdminAPI: &settings.AdminAPIConfig{PasswordHash: hash},
	})

	code, _ := env.do(t, http.MethodGet, "/api/ratio/totals", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	// wrong password
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/ratio/auth", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "guess")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var token authResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&token))
	require.NotEmpty(t, token.AccessToken)

	req, err = http.NewRequest(http.MethodGet, env.server.URL+"/api/ratio/totals", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	code, _ = env.do(t, http.MethodGet, "/api/ratio/totals?access_token="+token.AccessToken, "")
	assert.Equal(t, http.StatusOK, code)

	req.Header.Set("Authorization", "Bearer "+token.AccessToken+"x")
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp3.StatusCode)
}

func TestWatch(t *testing.T) {
	env := newTestEnv(t, &settings.Config{})

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/ratio/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap ratio.Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.True(t, snap.Enabled)
	assert.Equal(t, ratio.Totals{}, snap.Totals)

	// the subscription is made before the first snapshot is sent
	env.counter.AddUpload(100)
	env.clock.Add(time.Second)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, int64(100), snap.Totals.Upload)
}

func TestWatchEndsOnDisable(t *testing.T) {
	env := newTestEnv(t, &settings.Config{})

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/ratio/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap ratio.Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))

	require.NoError(t, env.tracker.Disable())

	// the server side closes the connection
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout())
	}
}

func TestRPCRequestEncoding(t *testing.T) {
	var req RPCRequest
	require.NoError(t, json.NewDecoder(bytes.NewReader([]byte(`{"method":"get_config"}`))).Decode(&req))
	assert.Equal(t, "get_config", req.Method)
	assert.Empty(t, req.Params)

	bs, err := json.Marshal(RPCResponse{ID: req.ID})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": null, "result": null, "error": null}`, string(bs))
}

func TestAuthLockout(t *testing.T) {
	hash, err := passlib.Hash("secret")
	require.NoError(t, err)
	env := newTestEnv(t, &settings.Config{
		AdminAPI: &settings.AdminAPIConfig{PasswordHash: hash, AuthAttempts: 1},
	})

	login := func(password string) int {
		req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/ratio/auth", nil)
		require.NoError(t, err)
		req.SetBasicAuth("admin", password)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, login("secret"))
	assert.Equal(t, http.StatusUnauthorized, login("guess"))
	assert.Equal(t, http.StatusUnauthorized, login("guess again"))
	// locked out even with the right password
	assert.Equal(t, http.StatusUnauthorized, login("secret"))
}

func TestWatchLimit(t *testing.T) {
	env := newTestEnv(t, &settings.Config{
		AdminAPI: &settings.AdminAPIConfig{MaxWatchers: 1},
	})

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/ratio/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAdminEvents(t *testing.T) {
	env := newTestEnv(t, &settings.Config{})

	code, _ := env.do(t, http.MethodPut, "/api/ratio/log_level", `{"level": "loud"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPut, "/api/ratio/log_level", `{"level": "debug"}`)
	require.Equal(t, http.StatusOK, code)
	ev := <-env.events.EventChannel()
	assert.Equal(t, control.EventSetLogLevel, ev.Type)
	assert.Equal(t, "debug", ev.Info)

	code, _ = env.do(t, http.MethodPost, "/api/ratio/restart", "")
	require.Equal(t, http.StatusOK, code)
	ev = <-env.events.EventChannel()
	assert.Equal(t, control.EventRestart, ev.Type)
}
