// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vpnhouse/ratio/internal/ratio"
	"github.com/vpnhouse/ratio/internal/settings"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
)

const clientTimeout = 10 * time.Second

// Client calls the ratio RPC endpoint of a running daemon.
type Client struct {
	addr     string
	password string
	token    string
	client   *http.Client
	nextID   atomic.Int64
}

func NewClient(addr, password string) *Client {
	return &Client{
		addr:     strings.TrimRight(addr, "/"),
		password: password,
		client:   &http.Client{Timeout: clientTimeout},
	}
}

// RPCError is a failed RPC call as reported by the daemon.
type RPCError struct {
	Method string
	Reply  xerror.Response
}

func (e *RPCError) Error() string {
	text := string(e.Reply.Result)
	if e.Reply.Error != nil {
		text += ": " + *e.Reply.Error
	}
	if e.Reply.Details != nil {
		text += " (" + *e.Reply.Details + ")"
	}
	return fmt.Sprintf("%s failed: %s", e.Method, text)
}

func (c *Client) GetRatioAndTotals() (ratio.Report, error) {
	var report ratio.Report
	err := c.call(MethodGetRatioAndTotals, &report)
	return report, err
}

func (c *Client) GetConfig() (settings.RatioConfig, error) {
	var conf settings.RatioConfig
	err := c.call(MethodGetConfig, &conf)
	return conf, err
}

func (c *Client) SetConfig(patch map[string]interface{}) error {
	return c.call(MethodSetConfig, nil, patch)
}

func (c *Client) ResetRatio() error {
	return c.call(MethodResetRatio, nil)
}

// Login exchanges the admin password for an access token,
// it does nothing if no password is given.
func (c *Client) Login() error {
	if len(c.password) == 0 {
		return nil
	}

	req, err := http.NewRequest(http.MethodGet, c.addr+authPath, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth("admin", c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to authenticate at %s: non-200 response: %s", c.addr, resp.Status)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return err
	}
	c.token = auth.AccessToken
	return nil
}

func (c *Client) call(method string, result interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}

	buf := &bytes.Buffer{}
	_ = json.NewEncoder(buf).Encode(map[string]interface{}{
		"id":     c.nextID.Add(1),
		"method": method,
		"params": params,
	})

	req, err := http.NewRequest(http.MethodPost, c.addr+apiPrefix+"/rpc", buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.token) > 0 {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	zap.L().Debug("rpc call", zap.String("addr", c.addr), zap.String("method", method))
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to perform request to %s: non-200 response: %s", c.addr, resp.Status)
	}

	var out struct {
		Result json.RawMessage  `json:"result"`
		Error  *xerror.Response `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}

	if out.Error != nil {
		return &RPCError{Method: method, Reply: *out.Error}
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(out.Result, result)
}
