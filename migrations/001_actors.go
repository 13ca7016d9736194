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

package migrations

import (
	"context"
	"database/sql"
)

func actors(ctx context.Context, domain string, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `CREATE TABLE actors(id TEXT NOT NULL PRIMARY KEY, username TEXT NOT NULL, usernamelower TEXT NOT NULL, host TEXT, uri TEXT, inbox TEXT, sharedinbox TEXT, keyid TEXT, pubkey TEXT, privkey TEXT, edprivkey TEXT, lastfetched INTEGER, inserted INTEGER DEFAULT (UNIXEPOCH()), updated INTEGER DEFAULT (UNIXEPOCH()))`); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `CREATE UNIQUE INDEX actorsusernamehost ON actors(usernamelower, COALESCE(host, ''))`); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `CREATE UNIQUE INDEX actorsuri ON actors(uri) WHERE uri IS NOT NULL`)
	return err
}
