/*
Copyright 2026 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/cfg"
	"github.com/ktncode/misskey-sub002/httpsig"
)

const userAgent = "misskey-sub002/1.0"

// Doer sends a single HTTP request without following redirects.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// StatusError is returned when a remote server responds with an unexpected status code.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s responded with %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s responded with %d: %s", e.URL, e.StatusCode, e.Body)
}

// Permanent determines whether or not retrying the same request is pointless.
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

var (
	ErrInvalidScheme    = errors.New("invalid scheme")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrResponseTooBig   = errors.New("response is too big")
)

// Client is an [ap.HTTPClient] that follows redirects itself, so the final URL is always known.
//
// If Key is set, GET requests are signed with it.
type Client struct {
	Config *cfg.Config
	Doer   Doer
	Key    *httpsig.Key
	Log    *slog.Logger
}

var _ ap.HTTPClient = (*Client)(nil)

// NewHTTPClient returns an [http.Client] suitable for use as [Client.Doer].
func NewHTTPClient(cfg *cfg.Config) *http.Client {
	return &http.Client{
		Timeout: cfg.FetchTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (c *Client) checkScheme(u *url.URL) error {
	if u.Scheme == "https" || (u.Scheme == "http" && c.Config.WebFingerUseHTTP) {
		return nil
	}
	return fmt.Errorf("cannot fetch %s: %w", u.String(), ErrInvalidScheme)
}

func isRedirect(statusCode int) bool {
	switch statusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func (c *Client) readError(u string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{URL: u, StatusCode: resp.StatusCode, Body: string(body)}
}

// get sends a GET request and follows redirects, then returns the response and the URL it came from.
func (c *Client) get(ctx context.Context, rawURL, accept string) (*http.Response, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("cannot fetch %s: %w", rawURL, err)
	}

	for redirects := 0; ; redirects++ {
		if err := c.checkScheme(u); err != nil {
			return nil, "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, "", fmt.Errorf("cannot fetch %s: %w", u.String(), err)
		}

		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", accept)

		if c.Key != nil {
			if err := httpsig.Sign(req, *c.Key, time.Now()); err != nil {
				return nil, "", fmt.Errorf("failed to sign request for %s: %w", u.String(), err)
			}
		}

		c.Log.Debug("Sending request", "url", u.String())

		resp, err := c.Doer.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch %s: %w", u.String(), err)
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			resp.Body.Close()

			if redirects >= c.Config.MaxRedirects {
				return nil, "", fmt.Errorf("failed to fetch %s: %w", rawURL, ErrTooManyRedirects)
			}

			next, err := u.Parse(location)
			if err != nil || location == "" {
				return nil, "", fmt.Errorf("failed to fetch %s: invalid redirect to %s", u.String(), location)
			}

			c.Log.Debug("Following redirect", "from", u.String(), "to", next.String())
			u = next
			continue
		}

		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return nil, "", fmt.Errorf("failed to fetch %s: %w", rawURL, c.readError(u.String(), resp))
		}

		if resp.ContentLength > c.Config.MaxResponseBodySize {
			resp.Body.Close()
			return nil, "", fmt.Errorf("failed to fetch %s: %w", rawURL, ErrResponseTooBig)
		}

		return resp, u.String(), nil
	}
}

func (c *Client) readBody(u string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.Config.MaxResponseBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", u, err)
	}

	if int64(len(body)) > c.Config.MaxResponseBodySize {
		return nil, fmt.Errorf("failed to read %s: %w", u, ErrResponseTooBig)
	}

	return body, nil
}

// GetJSON fetches a JSON document and returns the URL it was fetched from, after redirects.
func (c *Client) GetJSON(ctx context.Context, url, accept string, v any) (string, error) {
	resp, final, err := c.get(ctx, url, accept)
	if err != nil {
		return "", err
	}

	body, err := c.readBody(final, resp)
	if err != nil {
		return "", err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", final, err)
	}

	return final, nil
}

// GetText fetches a text document.
func (c *Client) GetText(ctx context.Context, url, accept string) (string, error) {
	resp, final, err := c.get(ctx, url, accept)
	if err != nil {
		return "", err
	}

	body, err := c.readBody(final, resp)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// Send sends a request as-is and fails if the response status is not 2xx.
//
// On success, the caller must close the response body.
func (c *Client) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.checkScheme(req.URL); err != nil {
		return nil, err
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.Doer.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", req.URL.String(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("failed to send request to %s: %w", req.URL.String(), c.readError(req.URL.String(), resp))
	}

	return resp, nil
}
