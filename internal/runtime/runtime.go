// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package runtime

import (
	"fmt"

	"github.com/vpnhouse/ratio/internal/settings"
	"github.com/vpnhouse/ratio/pkg/control"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
)

type ServicesInitFunc func(runtime *RatioRuntime) error

// RatioRuntime owns the daemon services and rebuilds them on restart.
type RatioRuntime struct {
	LogLevel *control.LogLevel
	Events   *control.EventManager
	Services *control.ServiceMap
	Settings *settings.Config
	starter  ServicesInitFunc
}

func New(static *settings.Config, starter ServicesInitFunc) (*RatioRuntime, error) {
	logLevel, err := control.InitLogger(static.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	return &RatioRuntime{
		Settings: static,
		LogLevel: logLevel,
		Events:   control.NewEventManager(),
		Services: control.NewServiceMap(),
		starter:  starter,
	}, nil
}

func (runtime *RatioRuntime) EventChannel() <-chan control.Event {
	return runtime.Events.EventChannel()
}

// ProcessEvents handles an event emitted by a service,
// a returned error terminates the daemon.
func (runtime *RatioRuntime) ProcessEvents(event control.Event) error {
	zap.L().Debug("processing event", zap.Stringer("type", event.Type))

	switch event.Type {
	case control.EventSetLogLevel:
		level, _ := event.Info.(string)
		// invalid levels are rejected by the API, a failure here is not fatal
		_ = runtime.LogLevel.Set(level)
		return nil
	case control.EventRestart:
		return runtime.Restart()
	case control.EventCriticalError:
		return xerror.EInternalError("critical error reported", nil, zap.Any("info", event.Info))
	default:
		zap.L().Error("ignoring unsupported event type", zap.Int("type", int(event.Type)))
		return nil
	}
}

func (runtime *RatioRuntime) Start() error {
	return runtime.starter(runtime)
}

func (runtime *RatioRuntime) Stop() error {
	return runtime.Services.Shutdown()
}

func (runtime *RatioRuntime) Restart() error {
	zap.L().Info("restarting services")
	if err := runtime.Stop(); err != nil {
		return err
	}
	return runtime.Start()
}
