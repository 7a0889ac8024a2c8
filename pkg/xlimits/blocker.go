// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package xlimits

import (
	"context"
	"sync"

	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Blocker limits the number of concurrent holders per key.
type Blocker struct {
	lock      sync.Mutex
	maxConn   int64
	consumers map[string]*consumer
}

type consumer struct {
	limit *semaphore.Weighted
	usage int
}

func NewBlocker(maxConn int) *Blocker {
	return &Blocker{
		maxConn:   int64(maxConn),
		consumers: make(map[string]*consumer),
	}
}

func (s *Blocker) take(id string) *consumer {
	s.lock.Lock()
	defer s.lock.Unlock()

	c, loaded := s.consumers[id]
	if !loaded {
		c = &consumer{
			limit: semaphore.NewWeighted(s.maxConn),
		}
		s.consumers[id] = c
	}

	c.usage += 1
	return c
}

func (s *Blocker) put(id string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	c, loaded := s.consumers[id]
	if !loaded {
		zap.L().Error("can't put unknown consumer", zap.String("id", id))
		return
	}

	c.usage -= 1
	if c.usage == 0 {
		delete(s.consumers, id)
	}
}

// Acquire waits for a free slot of id until ctx is done.
// The returned function releases the slot.
func (s *Blocker) Acquire(ctx context.Context, id string) (func(), error) {
	c := s.take(id)
	if err := c.limit.Acquire(ctx, 1); err != nil {
		s.put(id)
		return nil, xerror.WUnavailable("limits", "too many concurrent requests", err, zap.String("id", id))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.limit.Release(1)
			s.put(id)
		})
	}, nil
}

// Consumers returns the number of keys holding or waiting for a slot.
func (s *Blocker) Consumers() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.consumers)
}
