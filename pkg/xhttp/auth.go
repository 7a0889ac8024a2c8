// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package xhttp

import (
	"net/http"
	"strings"
)

// AccessTokenParam carries the token for clients unable to set headers,
// e.g. browsers opening a websocket.
const AccessTokenParam = "access_token"

// BearerToken returns the token of the "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, len(token) > 0
}

// ExtractToken looks for the bearer header first, then for the query parameter.
func ExtractToken(r *http.Request) (string, bool) {
	if token, ok := BearerToken(r); ok {
		return token, true
	}

	token := r.URL.Query().Get(AccessTokenParam)
	return token, len(token) > 0
}
