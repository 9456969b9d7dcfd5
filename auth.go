/*
 * Copyright 2024 ACRONYM Group.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package aciserver

import (
	"context"
	"fmt"
	"os"

	"github.com/coreos/go-oidc/v3/oidc"
)

// LocalAuthenticator checks an a_auth (id, token) pair against the local
// credential store. Registry satisfies this directly off its config
// database, so production code never needs a separate implementation;
// the interface exists so session tests can substitute a fake one.
type LocalAuthenticator interface {
	CheckLocalAuth(id, token string) (ok bool, msg string, err error)
}

// OIDCExternalAuthenticator verifies g_auth id_tokens against a
// configured OIDC issuer, the Go-ecosystem equivalent of the original
// server's google-signin-backed verifier (original_source's
// authentication.rs). Construct with NewOIDCExternalAuthenticator.
type OIDCExternalAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	audience string
}

// OIDCConfig names the issuer and audience an OIDCExternalAuthenticator
// checks g_auth tokens against. Audience mirrors the original server's
// OAUTH_CLIENT_ID environment variable.
type OIDCConfig struct {
	IssuerURL string
	Audience  string
}

// NewOIDCExternalAuthenticator discovers the issuer's OIDC configuration
// and returns a verifier for tokens issued to Audience. Audience falls
// back to the OAUTH_CLIENT_ID environment variable if cfg.Audience is
// empty, matching the original server's lookup.
func NewOIDCExternalAuthenticator(ctx context.Context, cfg OIDCConfig) (*OIDCExternalAuthenticator, error) {
	audience := cfg.Audience
	if audience == "" {
		audience = os.Getenv("OAUTH_CLIENT_ID")
	}
	if audience == "" {
		return nil, newErr(errIO, "no OIDC audience configured and OAUTH_CLIENT_ID is unset")
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, newErr(errIO, "discovering OIDC provider %q: %v", cfg.IssuerURL, err)
	}
	return &OIDCExternalAuthenticator{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
		audience: audience,
	}, nil
}

// VerifyExternal implements ExternalAuthenticator. A verification
// failure is reported as ok=false, not an error, since an untrusted or
// expired token is an expected outcome, not an operational fault.
func (a *OIDCExternalAuthenticator) VerifyExternal(ctx context.Context, idToken string) (subject string, ok bool, err error) {
	token, err := a.verifier.Verify(ctx, idToken)
	if err != nil {
		return "", false, nil
	}
	var claims struct {
		Subject string `json:"sub"`
	}
	if err := token.Claims(&claims); err != nil {
		return "", false, fmt.Errorf("decoding id_token claims: %w", err)
	}
	if claims.Subject == "" {
		return "", false, nil
	}
	return claims.Subject, true, nil
}
