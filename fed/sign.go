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
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/cfg"
	"github.com/ktncode/misskey-sub002/data"
	"github.com/ktncode/misskey-sub002/httpsig"
	"github.com/ktncode/misskey-sub002/ldsig"
	"github.com/ktncode/misskey-sub002/proof"
)

// KeyStore returns private keys of local actors, in PEM form.
type KeyStore interface {
	PrivateKey(ctx context.Context, id string) (string, error)
	Ed25519Key(ctx context.Context, id string) (string, error)
}

// ActivitySigner signs outgoing activities on behalf of local actors.
//
// Every activity gets a Linked Data Signature. Unless disabled, it also gets
// an integrity proof if the actor has an Ed25519 key.
type ActivitySigner struct {
	Domain string
	Config *cfg.Config
	Keys   KeyStore
	LD     *ldsig.Signer
	Log    *slog.Logger
}

// Key returns the RSA key of a local actor.
func (s *ActivitySigner) Key(ctx context.Context, actor *ap.ActorRef) (httpsig.Key, error) {
	pemString, err := s.Keys.PrivateKey(ctx, actor.ID)
	if err != nil {
		return httpsig.Key{}, err
	}

	key, err := data.ParsePrivateKey(pemString)
	if err != nil {
		return httpsig.Key{}, fmt.Errorf("failed to parse key of %s: %w", actor.ID, err)
	}

	return httpsig.Key{ID: actor.KeyID, PrivateKey: key}, nil
}

func (s *ActivitySigner) ed25519Key(ctx context.Context, actor *ap.ActorRef) (httpsig.Key, bool) {
	pemString, err := s.Keys.Ed25519Key(ctx, actor.ID)
	if err != nil {
		s.Log.DebugContext(ctx, "No Ed25519 key", "actor", actor.ID, "error", err)
		return httpsig.Key{}, false
	}

	key, err := data.ParsePrivateKey(pemString)
	if err != nil {
		s.Log.WarnContext(ctx, "Failed to parse Ed25519 key", "actor", actor.ID, "error", err)
		return httpsig.Key{}, false
	}

	if _, ok := key.(ed25519.PrivateKey); !ok {
		return httpsig.Key{}, false
	}

	return httpsig.Key{ID: ap.LocalURI(s.Domain, actor.ID) + "#ed25519-key", PrivateKey: key}, true
}

// Sign returns a signed copy of an activity.
func (s *ActivitySigner) Sign(ctx context.Context, actor *ap.ActorRef, activity ap.Activity) (ap.Activity, error) {
	key, err := s.Key(ctx, actor)
	if err != nil {
		return nil, err
	}

	rsaKey, ok := key.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("wrong key type for %s: %T", actor.ID, key.PrivateKey)
	}

	now := time.Now()

	if !s.Config.DisableIntegrityProofs {
		if edKey, ok := s.ed25519Key(ctx, actor); ok {
			withProof, err := proof.Add(edKey, now, activity)
			if err != nil {
				return nil, fmt.Errorf("failed to add proof to %s: %w", activity.ID(), err)
			}
			activity = withProof
		}
	}

	return s.LD.Sign(ctx, activity, rsaKey, actor.KeyID, "", now)
}
