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
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/cfg"
)

var (
	ErrInvalidQuery         = errors.New("invalid query")
	ErrWebFingerFetchFailed = errors.New("failed to WebFinger")
)

const (
	hostMetaAccept  = "application/xrd+xml"
	webFingerAccept = "application/jrd+json, application/json"
)

// WebFinger resolves acct:user@host or profile URL queries into WebFinger documents.
//
// The WebFinger URL template is discovered through host-meta, with
// /.well-known/webfinger as fallback.
type WebFinger struct {
	Config *cfg.Config
	Client ap.HTTPClient
	Log    *slog.Logger
}

type xrdDocument struct {
	Links []struct {
		Rel      string `xml:"rel,attr"`
		Template string `xml:"template,attr"`
	} `xml:"Link"`
}

// Resolve fetches the WebFinger document for a query.
func (w *WebFinger) Resolve(ctx context.Context, query string) (*ap.WebFingerDocument, error) {
	u, err := w.URL(ctx, query)
	if err != nil {
		return nil, err
	}

	w.Log.Debug("Fetching WebFinger document", "query", query, "url", u)

	var doc ap.WebFingerDocument
	if _, err := w.Client.GetJSON(ctx, u, webFingerAccept, &doc); err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrWebFingerFetchFailed, query, err)
	}

	return &doc, nil
}

// URL returns the WebFinger URL for a query.
func (w *WebFinger) URL(ctx context.Context, query string) (string, error) {
	if strings.HasPrefix(query, "https://") || strings.HasPrefix(query, "http://") {
		u, err := url.Parse(query)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidQuery, query)
		}

		origin := u.Scheme + "://" + u.Host
		template := w.templateFromHostMeta(ctx, origin)
		if template == "" {
			template = origin + "/.well-known/webfinger?resource={uri}"
		}

		return strings.ReplaceAll(template, "{uri}", url.QueryEscape(query)), nil
	}

	if username, host, ok := strings.Cut(query, "@"); ok && username != "" && host != "" {
		origin := w.Config.Scheme() + "://" + host
		template := w.templateFromHostMeta(ctx, origin)
		if template == "" {
			template = origin + "/.well-known/webfinger?resource={uri}"
		}

		return strings.ReplaceAll(template, "{uri}", url.QueryEscape("acct:"+query)), nil
	}

	return "", fmt.Errorf("%w: %s", ErrInvalidQuery, query)
}

// templateFromHostMeta returns the lrdd template advertised by a server, or an empty string.
func (w *WebFinger) templateFromHostMeta(ctx context.Context, origin string) string {
	hostMeta := origin + "/.well-known/host-meta"

	body, err := w.Client.GetText(ctx, hostMeta, hostMetaAccept)
	if err != nil {
		w.Log.Info("Failed to fetch host-meta", "url", hostMeta, "error", err)
		return ""
	}

	var doc xrdDocument
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		w.Log.Info("Failed to parse host-meta", "url", hostMeta, "error", err)
		return ""
	}

	for _, link := range doc.Links {
		if link.Rel == "lrdd" && strings.Contains(link.Template, "{uri}") {
			return link.Template
		}
	}

	w.Log.Debug("No WebFinger template in host-meta", "url", hostMeta)
	return ""
}
