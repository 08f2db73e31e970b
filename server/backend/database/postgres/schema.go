/*
 * Copyright 2026 The Kriya Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const idxSessionsDocument = "sessions_document_id_idx"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		connection_id    TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		document_id      TEXT NOT NULL DEFAULT '',
		mode             TEXT NOT NULL,
		joined_at        TIMESTAMPTZ NOT NULL,
		last_activity_at TIMESTAMPTZ NOT NULL,
		expires_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ` + idxSessionsDocument + `
		ON sessions (document_id, mode, last_activity_at)`,
	`CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON sessions (expires_at)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id               TEXT PRIMARY KEY,
		content          TEXT NOT NULL,
		version          BIGINT NOT NULL,
		language         TEXT NOT NULL,
		size             INTEGER NOT NULL,
		lines            INTEGER NOT NULL,
		characters       INTEGER NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		last_modified_at TIMESTAMPTZ NOT NULL
	)`,
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// hasIndex returns whether the given index exists.
func hasIndex(ctx context.Context, pool *pgxpool.Pool, name string) (bool, error) {
	var exists bool
	if err := pool.QueryRow(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)`,
		name,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("find index %s: %w", name, err)
	}
	return exists, nil
}
