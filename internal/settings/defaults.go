// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package settings

import "time"

const (
	DefaultRefreshInterval = time.Second
	DefaultPersistInterval = 63 * time.Second
	DefaultListenAddr      = ":8112"
	DefaultTokenLifetime   = 30 * time.Minute
	DefaultTorrentPort     = 42069

	DefaultWatchersPerClient = 4
	DefaultAuthAttempts      = 5
	DefaultAuthLockout       = time.Minute
)
