// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

// Package auth issues and verifies the bearer tokens of the admin API.
package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/vpnhouse/ratio/pkg/xap"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
)

const (
	jwtKeyID = "kid"
	keyBits  = 2048
	issuer   = "ratiod"
)

// JWTMaster signs tokens with an RSA key living in memory only,
// issued tokens become invalid on every restart.
type JWTMaster struct {
	keyID   string
	private *rsa.PrivateKey
	method  jwt.SigningMethod
	now     func() time.Time
}

func NewJWTMaster() (*JWTMaster, error) {
	keyID, err := uuid.NewRandom()
	if err != nil {
		return nil, xerror.EInternalError("can't generate JWT key id", err)
	}

	zap.L().Info("generating keys for JWT", zap.Int("bits", keyBits))
	private, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, xerror.EInternalError("can't generate JWT key pair", err)
	}

	return &JWTMaster{
		keyID:   keyID.String(),
		private: private,
		method:  jwt.SigningMethodRS256,
		now:     time.Now,
	}, nil
}

// IssueAccessToken returns a token valid for the given lifetime.
func (m *JWTMaster) IssueAccessToken(subject string, lifetime time.Duration) (string, time.Time, error) {
	issued := m.now()
	expires := issued.Add(lifetime)

	token, err := m.Token(&jwt.StandardClaims{
		Id:        uuid.NewString(),
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  issued.Unix(),
		ExpiresAt: expires.Unix(),
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// VerifyAccessToken checks a token issued by IssueAccessToken.
func (m *JWTMaster) VerifyAccessToken(tokenString string) (*jwt.StandardClaims, error) {
	var claims jwt.StandardClaims
	if err := m.Parse(tokenString, &claims); err != nil {
		return nil, err
	}
	if claims.Issuer != issuer {
		return nil, xerror.EAuthenticationFailed("invalid token", nil, zap.String("issuer", claims.Issuer))
	}
	return &claims, nil
}

func (m *JWTMaster) Token(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(m.method, claims)
	token.Header[jwtKeyID] = m.keyID

	signed, err := token.SignedString(m.private)
	if err != nil {
		return "", xerror.EInternalError("can't sign token", err)
	}
	return signed, nil
}

// Parse verifies the signature and the standard time claims,
// then fills the claims given.
func (m *JWTMaster) Parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != m.method.Alg() {
			return nil, xerror.EAuthenticationFailed("unexpected signing method", nil, zap.String("method", token.Method.Alg()))
		}
		if kid, ok := token.Header[jwtKeyID].(string); !ok || kid != m.keyID {
			return nil, xerror.EAuthenticationFailed("unknown key id", nil, xap.ZapType(token.Header[jwtKeyID]))
		}
		return m.private.Public(), nil
	})
	if err != nil || token == nil || !token.Valid {
		return xerror.EAuthenticationFailed("invalid token", err)
	}
	return nil
}
