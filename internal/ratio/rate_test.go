// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package ratio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateMeterWindow(t *testing.T) {
	start := time.Unix(1000, 0)
	m := newRateMeter(2)
	assert.Equal(t, int64(0), m.Rate())

	m.Observe(start, 0)
	assert.Equal(t, int64(0), m.Rate())

	m.Observe(start.Add(time.Second), 100)
	assert.Equal(t, int64(100), m.Rate())

	m.Observe(start.Add(2*time.Second), 500)
	assert.Equal(t, int64(250), m.Rate())

	// the first sample leaves the window
	m.Observe(start.Add(3*time.Second), 600)
	assert.Equal(t, int64(250), m.Rate())
	assert.Len(t, m.samples, 3)
}

func TestRateMeterCounterRestart(t *testing.T) {
	start := time.Unix(1000, 0)
	m := newRateMeter(10)
	m.Observe(start, 1000)
	m.Observe(start.Add(time.Second), 2000)
	assert.Equal(t, int64(1000), m.Rate())

	m.Observe(start.Add(2*time.Second), 10)
	assert.Equal(t, int64(0), m.Rate())
	m.Observe(start.Add(4*time.Second), 210)
	assert.Equal(t, int64(100), m.Rate())
}

func TestRateMeterSameInstant(t *testing.T) {
	at := time.Unix(1000, 0)
	m := newRateMeter(3)
	m.Observe(at, 0)
	m.Observe(at, 100)
	assert.Equal(t, int64(0), m.Rate())
}
