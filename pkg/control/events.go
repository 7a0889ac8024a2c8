// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package control

import "go.uber.org/zap"

type EventType int

const (
	EventRestart EventType = iota + 1
	EventSetLogLevel
	EventCriticalError
)

func (t EventType) String() string {
	switch t {
	case EventRestart:
		return "restart"
	case EventSetLogLevel:
		return "set_log_level"
	case EventCriticalError:
		return "critical_error"
	default:
		return "unknown"
	}
}

type Event struct {
	Type EventType
	Info interface{}
}

// eventQueueSize bounds events emitted while the previous one is processed.
const eventQueueSize = 4

// EventManager delivers events from services to the runtime loop.
type EventManager struct {
	ch chan Event
}

func NewEventManager() *EventManager {
	return &EventManager{
		ch: make(chan Event, eventQueueSize),
	}
}

// Emit queues the event without blocking the caller,
// it returns false when the queue is full and the event is dropped.
func (m *EventManager) Emit(t EventType, info interface{}) bool {
	select {
	case m.ch <- Event{Type: t, Info: info}:
		return true
	default:
		zap.L().Warn("event queue is full, dropping the event", zap.Stringer("type", t))
		return false
	}
}

func (m *EventManager) EventChannel() <-chan Event {
	return m.ch
}
