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

// Package ldsig signs and verifies documents using RsaSignature2017 Linked Data Signatures.
package ldsig

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/piprate/json-gold/ld"
)

const (
	// SignatureType is the only supported signature type.
	SignatureType = "RsaSignature2017"

	signingContext = "https://w3id.org/identity/v1"

	createdFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Signer signs and verifies documents.
//
// Contexts that aren't preloaded are fetched using Client, with ContextTimeout as timeout.
// If Client is nil, such documents cannot be canonicalized.
type Signer struct {
	Client         ap.HTTPClient
	ContextTimeout time.Duration
}

// Sign returns a copy of doc with a "signature" field.
// If created is zero, the current time is used.
func (s *Signer) Sign(ctx context.Context, doc ap.Activity, key *rsa.PrivateKey, creator, domain string, created time.Time) (ap.Activity, error) {
	if created.IsZero() {
		created = time.Now()
	}

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	options := map[string]any{
		"type":    SignatureType,
		"creator": creator,
		"nonce":   hex.EncodeToString(nonce[:]),
		"created": created.UTC().Format(createdFormat),
	}
	if domain != "" {
		options["domain"] = domain
	}

	data, err := s.buildVerifyData(ctx, doc, options)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256([]byte(data))
	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", doc.ID(), err)
	}

	options["signatureValue"] = base64.StdEncoding.EncodeToString(sig)

	signed := doc.Clone()
	signed["signature"] = options
	return signed, nil
}

// Verify checks the "signature" field of doc against key.
//
// A wrong signature is reported as false without an error. An error is
// returned only if the signature is missing or the document cannot be canonicalized.
func (s *Signer) Verify(ctx context.Context, doc ap.Activity, key *rsa.PublicKey) (bool, error) {
	sig, err := SignatureOf(doc)
	if err != nil {
		return false, err
	}

	if sig.Type != SignatureType {
		return false, fmt.Errorf("unsupported signature type: %s", sig.Type)
	}

	options := map[string]any{
		"creator": sig.Creator,
		"nonce":   sig.Nonce,
		"created": sig.Created,
	}
	if sig.Domain != "" {
		options["domain"] = sig.Domain
	}

	data, err := s.buildVerifyData(ctx, doc, options)
	if err != nil {
		return false, err
	}

	raw, err := base64.StdEncoding.DecodeString(sig.SignatureValue)
	if err != nil {
		return false, nil
	}

	hash := sha256.Sum256([]byte(data))
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, hash[:], raw) == nil, nil
}

// SignatureOf returns the "signature" field of a document.
func SignatureOf(doc ap.Activity) (*ap.Signature, error) {
	field, ok := doc["signature"]
	if !ok {
		return nil, errors.New("no signature")
	}

	raw, err := json.Marshal(field)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	var sig ap.Signature
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	if sig.Creator == "" || sig.Nonce == "" || sig.Created == "" || sig.SignatureValue == "" {
		return nil, errors.New("incomplete signature")
	}

	return &sig, nil
}

func (s *Signer) buildVerifyData(ctx context.Context, doc ap.Activity, options map[string]any) (string, error) {
	transformed := make(map[string]any, len(options)+1)
	for k, v := range options {
		switch k {
		case "type", "id", "signatureValue":
		default:
			transformed[k] = v
		}
	}
	transformed["@context"] = signingContext

	optionsHash, err := s.hash(ctx, transformed)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize signature options: %w", err)
	}

	unsigned := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "signature" {
			unsigned[k] = v
		}
	}

	docHash, err := s.hash(ctx, unsigned)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %s: %w", doc.ID(), err)
	}

	return optionsHash + docHash, nil
}

func (s *Signer) hash(ctx context.Context, doc map[string]any) (string, error) {
	loader := documentLoader{
		ctx:     ctx,
		client:  s.Client,
		timeout: s.ContextTimeout,
	}
	if loader.timeout <= 0 {
		loader.timeout = time.Second * 5
	}

	opts := ld.NewJsonLdOptions("")
	opts.Algorithm = "URDNA2015"
	opts.Format = "application/n-quads"
	opts.DocumentLoader = &loader

	normalized, err := ld.NewJsonLdProcessor().Normalize(doc, opts)
	if err != nil {
		return "", loader.unwrap(err)
	}

	nquads, ok := normalized.(string)
	if !ok {
		return "", fmt.Errorf("unexpected canonicalization result: %T", normalized)
	}

	hash := sha256.Sum256([]byte(nquads))
	return hex.EncodeToString(hash[:]), nil
}
