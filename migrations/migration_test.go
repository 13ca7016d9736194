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
	"log/slog"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestRun_Twice(t *testing.T) {
	assert := assert.New(t)

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "db.sqlite3")+"?_journal_mode=WAL")
	assert.NoError(err)
	defer db.Close()

	assert.NoError(Run(context.Background(), slog.Default(), "localhost.localdomain", db))
	assert.NoError(Run(context.Background(), slog.Default(), "localhost.localdomain", db))

	var applied int
	assert.NoError(db.QueryRow(`select count(*) from migrations`).Scan(&applied))
	assert.Equal(len(migrations), applied)
}

func TestRun_UniqueLocalUsername(t *testing.T) {
	assert := assert.New(t)

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "db.sqlite3")+"?_journal_mode=WAL")
	assert.NoError(err)
	defer db.Close()

	assert.NoError(Run(context.Background(), slog.Default(), "localhost.localdomain", db))

	_, err = db.Exec(`insert into actors(id, username, usernamelower) values('1', 'Alice', 'alice')`)
	assert.NoError(err)

	_, err = db.Exec(`insert into actors(id, username, usernamelower) values('2', 'alice', 'alice')`)
	assert.Error(err)

	_, err = db.Exec(`insert into actors(id, username, usernamelower, host, uri) values('3', 'alice', 'alice', 'a.localdomain', 'https://a.localdomain/users/alice')`)
	assert.NoError(err)
}

func TestRun_ActorKeys(t *testing.T) {
	assert := assert.New(t)

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "db.sqlite3")+"?_journal_mode=WAL")
	assert.NoError(err)
	defer db.Close()

	assert.NoError(Run(context.Background(), slog.Default(), "localhost.localdomain", db))

	_, err = db.Exec(`insert into actors(id, username, usernamelower, privkey, edprivkey) values('1', 'alice', 'alice', 'a', 'b')`)
	assert.NoError(err)

	var columns int
	assert.NoError(db.QueryRow(`select count(*) from pragma_table_info('actors') where name in ('privkey', 'edprivkey')`).Scan(&columns))
	assert.Equal(2, columns)
}
