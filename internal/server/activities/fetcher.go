// Package activities retrieves a user's activity list from the provider.
package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/dmitrijs2005/stravasync/internal/common"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
)

// Fetcher issues one bearer-authorized GET per call and never retries.
type Fetcher struct {
	url     string
	perPage int
	http    *http.Client
}

// NewFetcher builds a Fetcher for activitiesURL. perPage <= 0 leaves the
// page size to the provider. httpClient supplies the base transport and
// timeout; nil means http.DefaultClient.
func NewFetcher(activitiesURL string, perPage int, httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{url: activitiesURL, perPage: perPage, http: httpClient}
}

func (f *Fetcher) client(accessToken string) *http.Client {
	return &http.Client{
		Timeout: f.http.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   f.http.Transport,
		},
	}
}

func (f *Fetcher) requestURL() (string, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return "", err
	}
	if f.perPage > 0 {
		q := u.Query()
		q.Set("per_page", strconv.Itoa(f.perPage))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Fetch returns the activities visible to rec's access token. A non-2xx
// answer is a *common.UpstreamError of kind common.ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, rec *models.TokenRecord) ([]models.Activity, error) {
	target, err := f.requestURL()
	if err != nil {
		return nil, fmt.Errorf("%w: activities url: %w", common.ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", common.ErrFetch, err)
	}
	req.Header.Set("Accept", common.ContentTypeJSON)

	resp, err := f.client(rec.AccessToken).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get activities: %w", common.ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read activities: %w", common.ErrFetch, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &common.UpstreamError{
			Kind:   common.ErrFetch,
			Op:     "get activities",
			Status: resp.StatusCode,
			Body:   string(body),
		}
	}

	var batch []models.Activity
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, common.Malformed("get activities", "%v", err)
	}
	if batch == nil {
		// a literal null
		return nil, common.Malformed("get activities", "expected a JSON array")
	}
	return batch, nil
}
