// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package control

import (
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type ServiceController interface {
	Shutdown() error
	Running() bool
}

type namedService struct {
	name    string
	service ServiceController
}

// ServiceMap holds the services of a runtime in their start order.
type ServiceMap struct {
	services []namedService
}

func NewServiceMap() *ServiceMap {
	return &ServiceMap{}
}

func (m *ServiceMap) RegisterService(name string, service ServiceController) error {
	if service == nil {
		return xerror.EInternalError("service is nil", nil, zap.String("name", name))
	}
	for _, s := range m.services {
		if s.name == name {
			return xerror.EInternalError("service is already registered", nil, zap.String("name", name))
		}
	}

	m.services = append(m.services, namedService{name: name, service: service})
	zap.L().Info("registered service", zap.String("name", name))
	return nil
}

// Names returns registered service names in the start order.
func (m *ServiceMap) Names() []string {
	names := make([]string, 0, len(m.services))
	for _, s := range m.services {
		names = append(names, s.name)
	}
	return names
}

// Shutdown stops services in reverse registration order.
// A failing service does not prevent the rest from being stopped,
// all errors are combined into the returned one.
func (m *ServiceMap) Shutdown() error {
	var errs error
	for i := len(m.services) - 1; i >= 0; i-- {
		s := m.services[i]
		zap.L().Info("shutting down service", zap.String("name", s.name))

		if err := s.service.Shutdown(); err != nil {
			errs = multierr.Append(errs, xerror.EInternalError("service is failed to shutdown", err, zap.String("name", s.name)))
			continue
		}
		if s.service.Running() {
			errs = multierr.Append(errs, xerror.EInternalError("service is still running", nil, zap.String("name", s.name)))
		}
	}

	m.services = nil
	return errs
}
