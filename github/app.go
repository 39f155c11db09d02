// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/benchalert/benchalert/client"
)

// appAuth logs in as a GitHub App installation: it signs a short-lived
// JWT with the app's private key and exchanges it for an installation
// access token.
type appAuth struct {
	appID          string
	installationID string
	key            *rsa.PrivateKey
	now            func() time.Time
}

func newAppAuth(appID, installationID string, pemKey []byte, now func() time.Time) (*appAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("github: parsing app private key: %w", err)
	}
	return &appAuth{appID: appID, installationID: installationID, key: key, now: now}, nil
}

// appJWT returns a JWT identifying the app. GitHub rejects tokens
// valid for more than 10 minutes; iat is backdated to allow for clock
// drift.
func (a *appAuth) appJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
}

type installationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *appAuth) login(ctx context.Context, c *client.Client) error {
	signed, err := a.appJWT()
	if err != nil {
		return fmt.Errorf("signing app JWT: %w", err)
	}
	var tok installationToken
	header := http.Header{"Authorization": {"Bearer " + signed}}
	path := "/app/installations/" + a.installationID + "/access_tokens"
	if err := c.LoginRequestHeader(ctx, http.MethodPost, path, header, nil, http.StatusCreated, &tok); err != nil {
		return err
	}
	if tok.Token == "" {
		return fmt.Errorf("installation %s: empty access token", a.installationID)
	}
	c.SetHeader("Authorization", "token "+tok.Token)
	return nil
}
