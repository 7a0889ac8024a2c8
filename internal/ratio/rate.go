// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package ratio

import "time"

type rateSample struct {
	at    time.Time
	value int64
}

// rateMeter estimates the growth of a cumulative counter
// in units per second over the last `window` observations.
type rateMeter struct {
	window  int
	samples []rateSample
}

func newRateMeter(window int) *rateMeter {
	if window <= 0 {
		window = 1
	}
	return &rateMeter{
		window:  window,
		samples: make([]rateSample, 0, window+1),
	}
}

// Observe records the counter value, a counter going
// backwards starts the measurement over.
func (m *rateMeter) Observe(at time.Time, value int64) {
	if n := len(m.samples); n > 0 && value < m.samples[n-1].value {
		m.Reset()
	}

	if len(m.samples) == m.window+1 {
		copy(m.samples, m.samples[1:])
		m.samples = m.samples[:m.window]
	}
	m.samples = append(m.samples, rateSample{at: at, value: value})
}

func (m *rateMeter) Rate() int64 {
	if len(m.samples) < 2 {
		return 0
	}

	first, last := m.samples[0], m.samples[len(m.samples)-1]
	elapsed := last.at.Sub(first.at).Milliseconds()
	if elapsed <= 0 {
		return 0
	}
	return (last.value - first.value) * 1000 / elapsed
}

func (m *rateMeter) Reset() {
	m.samples = m.samples[:0]
}
