// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"net/http"
	"time"

	"github.com/vpnhouse/ratio/pkg/xerror"
	"github.com/vpnhouse/ratio/pkg/xhttp"
	"go.uber.org/zap"
)

type authResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AdminDoAuth implements handler for GET /api/ratio/auth.
// It exchanges the admin password (basic auth) or a valid token
// for a fresh token.
func (instance *RatioAPI) AdminDoAuth(w http.ResponseWriter, r *http.Request) {
	xhttp.JSONResponse(w, func() (interface{}, error) {
		client := clientAddr(r)

		if err := instance.authenticate(r, client); err != nil {
			return nil, err
		}

		token, expires, err := instance.adminJWT.IssueAccessToken(client, instance.settings.GetTokenLifetime())
		if err != nil {
			return nil, err
		}
		return &authResponse{AccessToken: token, ExpiresAt: expires}, nil
	})
}

func (instance *RatioAPI) authenticate(r *http.Request, client string) error {
	if _, password, ok := r.BasicAuth(); ok {
		zap.L().Debug("found basic authentication", zap.String("client", client))
		if instance.authFailures.Exceeded(client) {
			return xerror.EAuthenticationFailed("too many failed attempts, try again later", nil, zap.String("client", client))
		}
		if err := instance.settings.VerifyAdminPassword(password); err != nil {
			instance.authFailures.Hit(client)
			return err
		}
		instance.authFailures.Forget(client)
		return nil
	}

	if token, ok := xhttp.BearerToken(r); ok {
		zap.L().Debug("found bearer authentication", zap.String("client", client))
		_, err := instance.adminJWT.VerifyAccessToken(token)
		return err
	}

	return xerror.EUnauthorized("basic or bearer authentication expected", nil)
}

// adminAuthMiddleware checks the bearer token,
// it does nothing unless the admin password is configured.
func (instance *RatioAPI) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !instance.settings.AuthRequired() || r.URL.Path == authPath {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := xhttp.ExtractToken(r)
		if !ok {
			xhttp.WriteJsonError(w, xerror.EUnauthorized("no auth token given", nil))
			return
		}

		if _, err := instance.adminJWT.VerifyAccessToken(token); err != nil {
			xhttp.WriteJsonError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}
