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

// Package proof creates and verifies integrity proofs.
//
// See https://codeberg.org/fediverse/fep/src/branch/main/fep/8b32/fep-8b32.md for more details.
package proof

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/gowebpki/jcs"
	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/httpsig"
)

const (
	proofType   = "DataIntegrityProof"
	cryptoSuite = "eddsa-jcs-2022"
	purpose     = "assertionMethod"

	dataIntegrityContext = "https://w3id.org/security/data-integrity/v1"
)

func normalizeJSON(v any) ([]byte, error) {
	j, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return jcs.Transform(j)
}

// withContext appends the data integrity context to a @context value.
func withContext(context any) any {
	switch v := context.(type) {
	case nil:
		return []any{"https://www.w3.org/ns/activitystreams", dataIntegrityContext}

	case string:
		if v == dataIntegrityContext {
			return v
		}
		return []any{v, dataIntegrityContext}

	case []any:
		if slices.Contains(v, any(dataIntegrityContext)) {
			return v
		}
		return append(slices.Clone(v), dataIntegrityContext)

	default:
		return []any{v, dataIntegrityContext}
	}
}

func withoutProof(doc ap.Activity) map[string]any {
	m := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "proof" && k != "signature" {
			m[k] = v
		}
	}
	return m
}

func create(key httpsig.Key, now time.Time, doc map[string]any, context any) (ap.Proof, error) {
	edKey, ok := key.PrivateKey.(ed25519.PrivateKey)
	if !ok {
		return ap.Proof{}, fmt.Errorf("wrong key type: %T", key.PrivateKey)
	}

	created := now.UTC().Format(time.RFC3339)

	cfg, err := normalizeJSON(map[string]any{
		"@context":           context,
		"type":               proofType,
		"cryptosuite":        cryptoSuite,
		"created":            created,
		"proofPurpose":       purpose,
		"verificationMethod": key.ID,
	})
	if err != nil {
		return ap.Proof{}, err
	}

	data, err := normalizeJSON(doc)
	if err != nil {
		return ap.Proof{}, err
	}

	cfgHash := sha256.Sum256(cfg)
	docHash := sha256.Sum256(data)

	return ap.Proof{
		Context:            context,
		Type:               proofType,
		CryptoSuite:        cryptoSuite,
		VerificationMethod: key.ID,
		Purpose:            purpose,
		Value:              "z" + base58.Encode(ed25519.Sign(edKey, append(cfgHash[:], docHash[:]...))),
		Created:            created,
	}, nil
}

// Add returns a copy of an activity with an eddsa-jcs-2022 integrity proof.
//
// The proof is stored as a generic JSON object, so the result can be signed again using a Linked Data Signature.
func Add(key httpsig.Key, now time.Time, doc ap.Activity) (ap.Activity, error) {
	context := withContext(doc["@context"])

	signed := doc.Clone()
	signed["@context"] = context

	proof, err := create(key, now, withoutProof(signed), context)
	if err != nil {
		return nil, err
	}

	j, err := json.Marshal(proof)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(j, &m); err != nil {
		return nil, err
	}

	signed["proof"] = m
	return signed, nil
}

// Of returns the integrity proof attached to an activity.
func Of(doc ap.Activity) (ap.Proof, error) {
	field, ok := doc["proof"]
	if !ok {
		return ap.Proof{}, errors.New("no proof")
	}

	j, err := json.Marshal(field)
	if err != nil {
		return ap.Proof{}, err
	}

	var proof ap.Proof
	if err := json.Unmarshal(j, &proof); err != nil {
		return ap.Proof{}, fmt.Errorf("invalid proof: %w", err)
	}

	return proof, nil
}

func tryVerify(key ed25519.PublicKey, docHash [32]byte, proof ap.Proof, context any) (bool, error) {
	m := map[string]any{
		"type":               proof.Type,
		"cryptosuite":        proof.CryptoSuite,
		"created":            proof.Created,
		"proofPurpose":       proof.Purpose,
		"verificationMethod": proof.VerificationMethod,
	}

	if context != nil {
		m["@context"] = context
	}

	cfg, err := normalizeJSON(m)
	if err != nil {
		return false, err
	}

	cfgHash := sha256.Sum256(cfg)

	return ed25519.Verify(key, append(cfgHash[:], docHash[:]...), base58.Decode(proof.Value[1:])), nil
}

// Verify verifies the integrity proof attached to an activity.
func Verify(key any, doc ap.Activity) error {
	edKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("wrong key type: %T", key)
	}

	proof, err := Of(doc)
	if err != nil {
		return err
	}

	if proof.Type != proofType {
		return errors.New("invalid type: " + proof.Type)
	}

	if proof.CryptoSuite != cryptoSuite {
		return errors.New("invalid cryptosuite: " + proof.CryptoSuite)
	}

	if proof.Purpose != purpose {
		return errors.New("invalid purpose: " + proof.Purpose)
	}

	if len(proof.Value) <= 1 || proof.Value[0] != 'z' {
		return errors.New("invalid value: " + proof.Value)
	}

	data, err := normalizeJSON(withoutProof(doc))
	if err != nil {
		return err
	}

	docHash := sha256.Sum256(data)

	context := proof.Context
	if context == nil {
		context = doc["@context"]
	}

	if ok, err := tryVerify(edKey, docHash, proof, context); err != nil {
		return err
	} else if ok {
		return nil
	}

	/*
		try again without @context, because Hubzilla ignores it
		https://framagit.org/hubzilla/core/-/blob/aaa863cda7c29daa4fe0322749f55f50e2123d1d/Zotlabs/Lib/JcsEddsa2022.php#L34
	*/
	if context != nil {
		if ok, err := tryVerify(edKey, docHash, proof, nil); err != nil {
			return err
		} else if ok {
			return nil
		}
	}

	return errors.New("proof verification failed")
}
