// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package control

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Runtime interface {
	Start() error
	Stop() error
	Restart() error
	EventChannel() <-chan Event
	ProcessEvents(Event) error
}

// Exec starts the runtime and serves signals and events until
// SIGINT or SIGTERM arrives, SIGHUP restarts the services.
// Services are always stopped before Exec returns.
func Exec(r Runtime) (err error) {
	defer func() {
		if stopErr := r.Stop(); stopErr != nil {
			err = multierr.Append(err, stopErr)
		}
	}()

	if err := r.Start(); err != nil {
		return err
	}

	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChannel)

	events := r.EventChannel()
	for {
		select {
		case sig := <-sigChannel:
			zap.L().Info("signal received", zap.Stringer("signal", sig))
			if sig != syscall.SIGHUP {
				return nil
			}
			// services can not be trusted after a failed restart
			if err := r.Restart(); err != nil {
				return err
			}
		case event := <-events:
			if err := r.ProcessEvents(event); err != nil {
				return err
			}
		}
	}
}
