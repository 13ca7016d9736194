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

package ldsig

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/piprate/json-gold/ld"
)

//go:embed contexts/*.jsonld
var contextFiles embed.FS

var preloadedFiles = map[string]string{
	"https://w3id.org/identity/v1":                "contexts/identity-v1.jsonld",
	"https://w3id.org/security/v1":                "contexts/security-v1.jsonld",
	"https://w3id.org/security/data-integrity/v1": "contexts/data-integrity-v1.jsonld",
	"https://www.w3.org/ns/activitystreams":       "contexts/activitystreams.jsonld",
	"http://www.w3.org/ns/activitystreams":        "contexts/activitystreams.jsonld",
	"https://www.w3.org/ns/activitystreams.json":  "contexts/activitystreams.jsonld",
}

// UnrecoverableError is returned when a document can never be canonicalized,
// regardless of how many times this is attempted.
type UnrecoverableError struct {
	URL    string
	Reason string
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("cannot load context %s: %s", e.URL, e.Reason)
}

// documentLoader resolves @context URLs: preloaded contexts are served from
// memory and anything else is fetched over HTTP(S).
type documentLoader struct {
	ctx     context.Context
	client  ap.HTTPClient
	timeout time.Duration

	// json-gold replaces the error returned by LoadDocument, so it's kept here
	err error
}

var _ ld.DocumentLoader = (*documentLoader)(nil)

func (l *documentLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	if path, ok := preloadedFiles[u]; ok {
		raw, err := contextFiles.ReadFile(path)
		if err != nil {
			return nil, err
		}

		// parsed every time because canonicalization may modify the document
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		return &ld.RemoteDocument{DocumentURL: u, Document: doc}, nil
	}

	parsed, err := url.Parse(u)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		l.err = &UnrecoverableError{URL: u, Reason: "invalid URL"}
		return nil, ld.NewJsonLdError(ld.LoadingDocumentFailed, l.err)
	}

	if l.client == nil {
		l.err = fmt.Errorf("cannot load context %s: no HTTP client", u)
		return nil, ld.NewJsonLdError(ld.LoadingDocumentFailed, l.err)
	}

	ctx, cancel := context.WithTimeout(l.ctx, l.timeout)
	defer cancel()

	var doc any
	if _, err := l.client.GetJSON(ctx, u, "application/ld+json, application/json", &doc); err != nil {
		l.err = fmt.Errorf("failed to fetch context %s: %w", u, err)
		return nil, ld.NewJsonLdError(ld.LoadingDocumentFailed, l.err)
	}

	return &ld.RemoteDocument{DocumentURL: u, Document: doc}, nil
}

// unwrap returns the error that caused canonicalization to fail.
func (l *documentLoader) unwrap(err error) error {
	if l.err != nil {
		return l.err
	}
	return err
}

// IsUnrecoverable determines whether or not err is caused by a document that can never be canonicalized.
func IsUnrecoverable(err error) bool {
	var unrecoverable *UnrecoverableError
	return errors.As(err, &unrecoverable)
}
