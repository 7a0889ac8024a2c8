// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package xlimits

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muesli/cache2go"
	"go.uber.org/zap"
)

// Recent counts hits per key within a sliding period,
// the counter expires after period without hits.
type Recent struct {
	recent *cache2go.CacheTable
	max    int
	period time.Duration
	lock   sync.Mutex
}

func NewRecent(max int, period time.Duration) *Recent {
	return &Recent{
		recent: cache2go.Cache(uuid.NewString()),
		max:    max,
		period: period,
	}
}

// Hit counts a hit for key and reports whether the limit is exceeded.
func (r *Recent) Hit(key string) bool {
	if key == "" {
		return false
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	cached, err := r.recent.Value(key)
	if err == nil {
		if cntr, ok := cached.Data().(*int); ok && cntr != nil {
			*cntr += 1
			return *cntr > r.max
		}
		zap.L().Error("invalid recent counter", zap.String("key", key))
	}

	cntr := 1
	r.recent.Add(key, r.period, &cntr)
	return cntr > r.max
}

// Exceeded reports whether key is over the limit without counting a hit.
func (r *Recent) Exceeded(key string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	cached, err := r.recent.Value(key)
	if err != nil {
		return false
	}
	cntr, ok := cached.Data().(*int)
	return ok && cntr != nil && *cntr > r.max
}

// Forget drops the counter of key.
func (r *Recent) Forget(key string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	_, _ = r.recent.Delete(key)
}
