// Package oauth talks to the provider's OAuth2 endpoints: it builds the
// consent URL and performs authorization-code and refresh-token exchanges.
// It keeps no state between calls.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/dmitrijs2005/stravasync/internal/common"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
)

// DefaultScope is the Strava scope string requested at consent time. The
// provider expects a single comma-separated value.
const DefaultScope = "read,activity:read_all"

// Config describes the OAuth application registered with the provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	Scope        string
}

// Client performs token endpoint calls. Authorization codes are single-use,
// so nothing here is ever retried.
type Client struct {
	cfg  *oauth2.Config
	http *http.Client
}

// NewClient builds a Client. httpClient carries the request timeout; nil
// means http.DefaultClient.
func NewClient(c Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	scope := c.Scope
	if scope == "" {
		scope = DefaultScope
	}
	return &Client{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Scopes:       []string{scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   c.AuthURL,
				TokenURL:  c.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http: httpClient,
	}
}

// AuthCodeURL returns the consent page URL. An empty state is omitted.
func (c *Client) AuthCodeURL(state string) string {
	return c.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// Exchange trades an authorization code for the user's first token pair.
// The returned record carries the athlete id as UserID.
func (c *Client) Exchange(ctx context.Context, code string) (*models.TokenRecord, error) {
	tok, err := c.cfg.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, upstreamError("exchange", err)
	}

	rec, err := recordFromToken("exchange", tok)
	if err != nil {
		return nil, err
	}

	athleteID, err := athleteIDFromToken(tok)
	if err != nil {
		return nil, err
	}
	rec.UserID = athleteID
	return rec, nil
}

// Refresh trades a refresh token for a new pair. The provider invalidates
// refreshToken once this succeeds, so the caller must persist the result
// before doing anything else. The returned record has no UserID.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenRecord, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh: empty refresh token", common.ErrOAuth)
	}

	src := c.cfg.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, upstreamError("refresh", err)
	}

	// x/oauth2 falls back to the old refresh token when the response has
	// none; a rotation response without one is malformed.
	if s, _ := tok.Extra("refresh_token").(string); s == "" {
		return nil, common.Malformed("refresh", "missing refresh_token")
	}
	return recordFromToken("refresh", tok)
}

// upstreamError classifies a token endpoint failure. Provider rejections
// and transport failures are ErrOAuth; anything else x/oauth2 reports is a
// success response it could not use, which is malformed.
func upstreamError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &common.UpstreamError{
			Kind:   common.ErrOAuth,
			Op:     op,
			Status: re.Response.StatusCode,
			Body:   string(re.Body),
		}
	}

	var ue *url.Error
	var ne net.Error
	if errors.As(err, &ue) || errors.As(err, &ne) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", common.ErrOAuth, op, err)
	}

	return common.Malformed(op, "%v", err)
}

func recordFromToken(op string, tok *oauth2.Token) (*models.TokenRecord, error) {
	if tok.AccessToken == "" {
		return nil, common.Malformed(op, "missing access_token")
	}
	if tok.RefreshToken == "" {
		return nil, common.Malformed(op, "missing refresh_token")
	}

	expiresAt, ok := int64Value(tok.Extra("expires_at"))
	if !ok || expiresAt <= 0 {
		return nil, common.Malformed(op, "missing expires_at")
	}

	return &models.TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func athleteIDFromToken(tok *oauth2.Token) (string, error) {
	athlete, ok := tok.Extra("athlete").(map[string]any)
	if !ok {
		return "", common.Malformed("exchange", "missing athlete")
	}
	id, ok := int64Value(athlete["id"])
	if !ok || id <= 0 {
		return "", common.Malformed("exchange", "missing athlete.id")
	}
	return strconv.FormatInt(id, 10), nil
}

func int64Value(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
