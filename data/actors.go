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

package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ktncode/misskey-sub002/ap"
)

// Actors is an [ap.ActorStore] backed by the actors table.
type Actors struct {
	DB *sql.DB
}

const actorColumns = `id, username, uri, host, inbox, sharedinbox, keyid, pubkey, lastfetched`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (*ap.ActorRef, error) {
	var actor ap.ActorRef
	var uri, host, inbox, sharedInbox, keyID, pubKey sql.NullString
	var lastFetched sql.NullInt64

	if err := row.Scan(&actor.ID, &actor.Username, &uri, &host, &inbox, &sharedInbox, &keyID, &pubKey, &lastFetched); errors.Is(err, sql.ErrNoRows) {
		return nil, ap.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	actor.URI = uri.String
	actor.Host = host.String
	actor.Inbox = inbox.String
	actor.SharedInbox = sharedInbox.String
	actor.KeyID = keyID.String
	actor.PublicKeyPem = pubKey.String
	if lastFetched.Valid {
		actor.LastFetchedAt = time.Unix(lastFetched.Int64, 0)
	}

	return &actor, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (a *Actors) FindLocalByUsername(ctx context.Context, usernameLower string) (*ap.ActorRef, error) {
	actor, err := scanActor(a.DB.QueryRowContext(ctx, `select `+actorColumns+` from actors where usernamelower = ? and host is null`, usernameLower))
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", usernameLower, err)
	}
	return actor, nil
}

func (a *Actors) FindRemoteByUsernameHost(ctx context.Context, usernameLower, host string) (*ap.ActorRef, error) {
	actor, err := scanActor(a.DB.QueryRowContext(ctx, `select `+actorColumns+` from actors where usernamelower = ? and host = ?`, usernameLower, host))
	if err != nil {
		return nil, fmt.Errorf("failed to find %s@%s: %w", usernameLower, host, err)
	}
	return actor, nil
}

func (a *Actors) FindByID(ctx context.Context, id string) (*ap.ActorRef, error) {
	actor, err := scanActor(a.DB.QueryRowContext(ctx, `select `+actorColumns+` from actors where id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", id, err)
	}
	return actor, nil
}

func (a *Actors) FindByURI(ctx context.Context, uri string) (*ap.ActorRef, error) {
	actor, err := scanActor(a.DB.QueryRowContext(ctx, `select `+actorColumns+` from actors where uri = ?`, uri))
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", uri, err)
	}
	return actor, nil
}

func (a *Actors) UpdateURI(ctx context.Context, id, uri string) error {
	if res, err := a.DB.ExecContext(ctx, `update actors set uri = ?, updated = unixepoch() where id = ? and host is not null`, uri, id); err != nil {
		return fmt.Errorf("failed to update URI of %s: %w", id, err)
	} else if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to update URI of %s: %w", id, err)
	} else if n == 0 {
		return fmt.Errorf("failed to update URI of %s: %w", id, ap.ErrNotFound)
	}
	return nil
}

func (a *Actors) TouchLastFetched(ctx context.Context, id string, t time.Time) error {
	if _, err := a.DB.ExecContext(ctx, `update actors set lastfetched = ? where id = ?`, t.Unix(), id); err != nil {
		return fmt.Errorf("failed to update last fetch time for %s: %w", id, err)
	}
	return nil
}

// UpsertRemote inserts or updates a remote actor.
//
// An existing record is matched by URI first, then by username and host.
func (a *Actors) UpsertRemote(ctx context.Context, actor *ap.ActorRef) (*ap.ActorRef, error) {
	if actor.Host == "" || actor.URI == "" {
		return nil, fmt.Errorf("cannot cache %s: not a remote actor", actor.URI)
	}

	usernameLower := strings.ToLower(actor.Username)

	var lastFetched sql.NullInt64
	if !actor.LastFetchedAt.IsZero() {
		lastFetched = sql.NullInt64{Int64: actor.LastFetchedAt.Unix(), Valid: true}
	}

	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to cache %s: %w", actor.URI, err)
	}
	defer tx.Rollback()

	var id string
	if err := tx.QueryRowContext(ctx, `select id from actors where uri = ?`, actor.URI).Scan(&id); errors.Is(err, sql.ErrNoRows) {
		if err := tx.QueryRowContext(ctx, `select id from actors where usernamelower = ? and host = ?`, usernameLower, actor.Host).Scan(&id); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to cache %s: %w", actor.URI, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to cache %s: %w", actor.URI, err)
	}

	if id == "" {
		id = uuid.NewString()
		if _, err := tx.ExecContext(
			ctx,
			`insert into actors(id, username, usernamelower, host, uri, inbox, sharedinbox, keyid, pubkey, lastfetched) values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id,
			actor.Username,
			usernameLower,
			actor.Host,
			actor.URI,
			nullString(actor.Inbox),
			nullString(actor.SharedInbox),
			nullString(actor.KeyID),
			nullString(actor.PublicKeyPem),
			lastFetched,
		); err != nil {
			return nil, fmt.Errorf("failed to cache %s: %w", actor.URI, err)
		}
	} else if _, err := tx.ExecContext(
		ctx,
		`update actors set username = ?, usernamelower = ?, host = ?, uri = ?, inbox = ?, sharedinbox = ?, keyid = ?, pubkey = ?, lastfetched = coalesce(?, lastfetched), updated = unixepoch() where id = ?`,
		actor.Username,
		usernameLower,
		actor.Host,
		actor.URI,
		nullString(actor.Inbox),
		nullString(actor.SharedInbox),
		nullString(actor.KeyID),
		nullString(actor.PublicKeyPem),
		lastFetched,
		id,
	); err != nil {
		return nil, fmt.Errorf("failed to cache %s: %w", actor.URI, err)
	}

	stored, err := scanActor(tx.QueryRowContext(ctx, `select `+actorColumns+` from actors where id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to cache %s: %w", actor.URI, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to cache %s: %w", actor.URI, err)
	}

	return stored, nil
}

// CreateLocal creates a local actor with a new RSA key pair.
func (a *Actors) CreateLocal(ctx context.Context, domain, username string) (*ap.ActorRef, error) {
	_, privPem, pubPem, err := GenerateRSAKey(2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key for %s: %w", username, err)
	}

	_, edPrivPem, err := GenerateEd25519Key()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key for %s: %w", username, err)
	}

	id := uuid.NewString()
	uri := ap.LocalURI(domain, id)

	if _, err := a.DB.ExecContext(
		ctx,
		`insert into actors(id, username, usernamelower, inbox, keyid, pubkey, privkey, edprivkey) values(?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		username,
		strings.ToLower(username),
		uri+"/inbox",
		uri+"#main-key",
		pubPem,
		privPem,
		edPrivPem,
	); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", username, err)
	}

	return a.FindByID(ctx, id)
}

// PrivateKey returns the RSA private key of a local actor, in PEM form.
func (a *Actors) PrivateKey(ctx context.Context, id string) (string, error) {
	return a.privateKey(ctx, id, "privkey")
}

// Ed25519Key returns the Ed25519 private key of a local actor, in PEM form.
func (a *Actors) Ed25519Key(ctx context.Context, id string) (string, error) {
	return a.privateKey(ctx, id, "edprivkey")
}

func (a *Actors) privateKey(ctx context.Context, id, column string) (string, error) {
	var privKey sql.NullString
	if err := a.DB.QueryRowContext(ctx, `select `+column+` from actors where id = ? and host is null`, id).Scan(&privKey); errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to fetch key for %s: %w", id, ap.ErrNotFound)
	} else if err != nil {
		return "", fmt.Errorf("failed to fetch key for %s: %w", id, err)
	} else if !privKey.Valid {
		return "", fmt.Errorf("failed to fetch key for %s: no key", id)
	}

	return privKey.String, nil
}
