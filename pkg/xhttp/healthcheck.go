// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package xhttp

import (
	"net/http"
)

type HealthChecker func() error

const (
	healthOK   = "ok"
	healthFail = "fail"
)

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck runs every named check and replies with the report,
// 503 if any of them fails.
type HealthCheck struct {
	names    []string
	checkers []HealthChecker
}

func NewHealthCheck() *HealthCheck {
	return &HealthCheck{}
}

func (h *HealthCheck) With(name string, c HealthChecker) *HealthCheck {
	h.names = append(h.names, name)
	h.checkers = append(h.checkers, c)
	return h
}

func (h *HealthCheck) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report := healthReport{
		Status: healthOK,
		Checks: make(map[string]string, len(h.names)),
	}

	for i, c := range h.checkers {
		if err := c(); err != nil {
			report.Status = healthFail
			report.Checks[h.names[i]] = err.Error()
			continue
		}
		report.Checks[h.names[i]] = healthOK
	}

	code := http.StatusOK
	if report.Status != healthOK {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, report)
}
