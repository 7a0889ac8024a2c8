// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

// Package human holds config value types written for humans.
package human

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Interval is a time.Duration given in a config file either
// in the duration format ("1m", "63s") or as an integer number of seconds.
type Interval time.Duration

// ParseInterval accepts both forms, negative intervals are rejected.
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)

	var d time.Duration
	if seconds, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(seconds) * time.Second
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", s, err)
		}
	}

	if d < 0 {
		return 0, fmt.Errorf("negative interval %q", s)
	}
	return Interval(d), nil
}

func MustParseInterval(s string) Interval {
	v, err := ParseInterval(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (s *Interval) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: interval must be a scalar", value.Line)
	}

	v, err := ParseInterval(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = v
	return nil
}

func (s Interval) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s Interval) Value() time.Duration {
	return time.Duration(s)
}

// Or returns def for an unset interval.
func (s Interval) Or(def time.Duration) time.Duration {
	if s <= 0 {
		return def
	}
	return time.Duration(s)
}

func (s Interval) String() string {
	return time.Duration(s).String()
}
