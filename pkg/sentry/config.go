// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package sentry

import (
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const flushTimeout = 2 * time.Second

// Config for embedding into services' configurations
type Config struct {
	DSN string `yaml:"dsn" json:"dsn"`
	Env string `yaml:"environment" json:"environment"`
}

// ConfigureGlobal initializes the global sentry hub, events are tagged
// with the instance id. Nil config or empty DSN leaves sentry disabled.
func ConfigureGlobal(config *Config, release, instanceID string) error {
	if config == nil || len(config.DSN) == 0 {
		zap.L().Debug("sentry is not configured")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              config.DSN,
		AttachStacktrace: true,
		Release:          release,
		Environment:      config.Env,
		ServerName:       instanceID,
		Integrations:     withoutModules,
	})
	if err != nil {
		return err
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("instance_id", instanceID)
	})
	zap.L().Info("sentry is configured", zap.String("environment", config.Env))
	return nil
}

// Flush waits for buffered events to be sent, it is safe
// to call with sentry disabled.
func Flush() {
	sentry.Flush(flushTimeout)
}

// withoutModules excludes the "Modules" integration from defaults.
func withoutModules(integrations []sentry.Integration) []sentry.Integration {
	use := make([]sentry.Integration, 0, len(integrations))
	for _, in := range integrations {
		if in.Name() == "Modules" {
			continue
		}
		use = append(use, in)
	}
	return use
}
