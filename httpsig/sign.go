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

// Package httpsig signs outgoing HTTP requests.
//
// Signatures follow draft-cavage-http-signatures-12, with rsa-sha256.
package httpsig

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Key is a private key and the ID of the matching public key.
type Key struct {
	ID         string
	PrivateKey any
}

var (
	defaultHeaders = []string{"(request-target)", "host", "date"}
	postHeaders    = []string{"(request-target)", "host", "date", "content-type", "digest"}
)

// Sign adds a signature to an outgoing HTTP request.
func Sign(r *http.Request, key Key, now time.Time) error {
	if key.ID == "" {
		return errors.New("empty key ID")
	}

	rsaKey, ok := key.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("wrong key type: %T", key.PrivateKey)
	}

	headers := defaultHeaders
	if r.Method == http.MethodPost {
		var body []byte
		if r.Body != nil {
			var err error
			if body, err = io.ReadAll(r.Body); err != nil {
				return err
			}
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(body)
		r.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(hash[:]))

		if r.Header.Get("Content-Type") == "" {
			r.Header.Set("Content-Type", `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`)
		}

		headers = postHeaders
	}

	r.Header.Set("Date", now.UTC().Format(http.TimeFormat))
	r.Header.Set("Host", r.URL.Host)

	s, err := buildSignatureString(r, headers)
	if err != nil {
		return err
	}

	hash := sha256.Sum256([]byte(s))
	sig, err := rsa.SignPKCS1v15(nil, rsaKey, crypto.SHA256, hash[:])
	if err != nil {
		return err
	}

	r.Header.Set(
		"Signature",
		fmt.Sprintf(
			`keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`,
			key.ID,
			strings.Join(headers, " "),
			base64.StdEncoding.EncodeToString(sig),
		),
	)

	return nil
}

// buildSignatureString returns the signed string: one "name: value" line per header.
// Multiple values of a header are joined with ", ".
func buildSignatureString(r *http.Request, headers []string) (string, error) {
	lines := make([]string, 0, len(headers))

	for _, h := range headers {
		if h == "(request-target)" {
			target := r.URL.EscapedPath()
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}

			lines = append(lines, fmt.Sprintf("(request-target): %s %s", strings.ToLower(r.Method), target))
			continue
		}

		if strings.HasPrefix(h, "(") {
			return "", fmt.Errorf("unsupported pseudo-header: %s", h)
		}

		values := r.Header.Values(textproto.CanonicalMIMEHeaderKey(h))
		if len(values) == 0 {
			return "", fmt.Errorf("missing header: %s", h)
		}

		trimmed := make([]string, len(values))
		for i, v := range values {
			trimmed[i] = strings.TrimSpace(v)
		}

		lines = append(lines, strings.ToLower(h)+": "+strings.Join(trimmed, ", "))
	}

	return strings.Join(lines, "\n"), nil
}
