package graph

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Defaults for the Microsoft identity platform.
const (
	DefaultAuthBase   = "https://login.microsoftonline.com"
	DefaultTokenScope = "https://graph.microsoft.com/.default"
)

// Credentials hold everything needed to mint Graph access tokens. When
// RefreshToken is set the refresh grant is used, otherwise client
// credentials.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	AuthBaseURL  string
	TokenScope   string
}

func (c Credentials) tokenURL() string {
	base := c.AuthBaseURL
	if base == "" {
		base = DefaultAuthBase
	}
	return base + "/" + c.TenantID + "/oauth2/v2.0/token"
}

func (c Credentials) scope() string {
	if c.TokenScope == "" {
		return DefaultTokenScope
	}
	return c.TokenScope
}

// TokenSource builds a cached oauth2 token source for the credentials. The
// supplied client carries all token endpoint traffic.
func TokenSource(ctx context.Context, client *http.Client, creds Credentials) oauth2.TokenSource {
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}

	if creds.RefreshToken != "" {
		cfg := &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: creds.tokenURL()},
			Scopes:       []string{creds.scope()},
		}
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	}

	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.tokenURL(),
		Scopes:       []string{creds.scope()},
	}
	return cfg.TokenSource(ctx)
}

// StaticTokenSource wraps a fixed access token, used in tests and for
// pre-acquired tokens.
func StaticTokenSource(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
}
