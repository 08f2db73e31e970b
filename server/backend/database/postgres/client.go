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

// Package postgres implements database interfaces using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	gotime "time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/pkg/ot"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/logging"
)

const uniqueViolation = "23505"

const sessionColumns = `connection_id, user_id, document_id, mode, joined_at, last_activity_at, expires_at`

const docColumns = `id, content, version, language, size, lines, characters, created_at, last_modified_at`

// Client is a client that connects to PostgreSQL and reads or saves Kriya
// data.
type Client struct {
	config  *Config
	pool    *pgxpool.Pool
	window  gotime.Duration
	indexed bool
}

// Dial creates an instance of Client and dials the given PostgreSQL.
func Dial(conf *Config, window gotime.Duration) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.ParseConnectionTimeout())
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(conf.ConnectionURI)
	if err != nil {
		return nil, fmt.Errorf("parse postgres uri: %w", err)
	}
	if conf.MaxConns > 0 {
		poolConfig.MaxConns = conf.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	indexed, err := hasIndex(ctx, pool, idxSessionsDocument)
	if err != nil {
		pool.Close()
		return nil, err
	}

	logging.DefaultLogger().Infof("PostgreSQL connected, host: %s", poolConfig.ConnConfig.Host)

	return &Client{
		config:  conf,
		pool:    pool,
		window:  window,
		indexed: indexed,
	}, nil
}

// Close all resources of this client.
func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

// UpsertSession creates or refreshes the session of the given connection in
// a single statement.
func (c *Client) UpsertSession(
	ctx context.Context,
	connectionID string,
	userID string,
	documentID string,
	mode types.Mode,
) (*database.SessionInfo, error) {
	now := c.now()

	rows, err := c.pool.Query(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, COALESCE(NULLIF($2, ''), $1), $3, $4, $5, $5, $6)
		ON CONFLICT (connection_id) DO UPDATE SET
			user_id = COALESCE(NULLIF($2, ''), sessions.user_id),
			joined_at = CASE
				WHEN sessions.document_id = EXCLUDED.document_id THEN sessions.joined_at
				ELSE EXCLUDED.joined_at
			END,
			document_id = EXCLUDED.document_id,
			mode = EXCLUDED.mode,
			last_activity_at = EXCLUDED.last_activity_at,
			expires_at = EXCLUDED.expires_at
		RETURNING `+sessionColumns,
		connectionID, userID, documentID, string(mode), now, now.Add(c.window),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert session of %s: %w", connectionID, err)
	}

	info, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("upsert session of %s: %w", connectionID, err)
	}

	return info, nil
}

// FindSession returns the session of the given connection.
func (c *Client) FindSession(ctx context.Context, connectionID string) (*database.SessionInfo, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE connection_id = $1`,
		connectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("find session of %s: %w", connectionID, err)
	}

	info, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", connectionID, database.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find session of %s: %w", connectionID, err)
	}

	return info, nil
}

// FindMembersOf returns the live sessions of the given document that had
// activity within the liveness window.
func (c *Client) FindMembersOf(ctx context.Context, documentID string) ([]*database.SessionInfo, error) {
	if !c.indexed {
		logging.From(ctx).Warnf("index %s unavailable, scanning sessions of %s", idxSessionsDocument, documentID)
	}

	rows, err := c.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE document_id = $1 AND mode = $2 AND last_activity_at > $3`,
		documentID, string(types.ModeLive), c.now().Add(-c.window),
	)
	if err != nil {
		return nil, fmt.Errorf("find members of %s: %w", documentID, err)
	}

	infos, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("find members of %s: %w", documentID, err)
	}

	return infos, nil
}

// RemoveSession removes the session of the given connection.
func (c *Client) RemoveSession(ctx context.Context, connectionID string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM sessions WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("remove session of %s: %w", connectionID, err)
	}

	return nil
}

// RemoveExpiredSessions removes at most limit sessions that expired before
// now.
func (c *Client) RemoveExpiredSessions(ctx context.Context, now gotime.Time, limit int) (int, error) {
	tag, err := c.pool.Exec(ctx, `
		DELETE FROM sessions WHERE connection_id IN (
			SELECT connection_id FROM sessions WHERE expires_at < $1 LIMIT $2
		)`,
		now, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("remove expired sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// FindDocInfo returns the document of the given id.
func (c *Client) FindDocInfo(ctx context.Context, id string) (*database.DocInfo, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+docColumns+` FROM documents WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("find document of %s: %w", id, err)
	}

	info, err := pgx.CollectExactlyOneRow(rows, scanDocInfo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, database.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find document of %s: %w", id, err)
	}

	return info, nil
}

// CreateDocInfo creates a new document.
func (c *Client) CreateDocInfo(ctx context.Context, id, content, language string) (*database.DocInfo, error) {
	info := database.NewDocInfo(id, content, language, c.now())

	err := c.insertDocInfo(ctx, info)
	if errors.Is(err, database.ErrConflictOnUpdate) {
		return nil, fmt.Errorf("%s: %w", id, database.ErrDocumentAlreadyExists)
	}
	if err != nil {
		return nil, err
	}

	return info, nil
}

// ApplyOperation applies the operation to the document with an update
// conditioned on the version read.
func (c *Client) ApplyOperation(ctx context.Context, id string, op ot.Operation) (*database.DocInfo, error) {
	now := c.now()

	info, err := c.FindDocInfo(ctx, id)
	if errors.Is(err, database.ErrDocumentNotFound) {
		info = database.NewDocInfo(id, "", "", now)
		info.ApplyOperation(op, now)
		if err := c.insertDocInfo(ctx, info); err != nil {
			return nil, err
		}
		return info, nil
	}
	if err != nil {
		return nil, err
	}

	expected := info.Version
	info.ApplyOperation(op, now)

	tag, err := c.pool.Exec(ctx, `
		UPDATE documents SET
			content = $3, version = $4, size = $5, lines = $6, characters = $7, last_modified_at = $8
		WHERE id = $1 AND version = $2`,
		id, expected,
		info.Content, info.Version,
		info.Metadata.Size, info.Metadata.Lines, info.Metadata.Characters,
		info.LastModifiedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update document of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("update %s at version %d: %w", id, expected, database.ErrConflictOnUpdate)
	}

	return info, nil
}

func (c *Client) insertDocInfo(ctx context.Context, info *database.DocInfo) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO documents (`+docColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		info.ID, info.Content, info.Version, info.Language,
		info.Metadata.Size, info.Metadata.Lines, info.Metadata.Characters,
		info.CreatedAt, info.LastModifiedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("insert %s: %w", info.ID, database.ErrConflictOnUpdate)
	}
	if err != nil {
		return fmt.Errorf("insert document of %s: %w", info.ID, err)
	}

	return nil
}

// now returns the current time at the precision shared by every store.
func (c *Client) now() gotime.Time {
	return gotime.Now().Truncate(gotime.Millisecond)
}

func scanSession(row pgx.CollectableRow) (*database.SessionInfo, error) {
	var info database.SessionInfo
	var mode string
	if err := row.Scan(
		&info.ConnectionID,
		&info.UserID,
		&info.DocumentID,
		&mode,
		&info.JoinedAt,
		&info.LastActivityAt,
		&info.ExpiresAt,
	); err != nil {
		return nil, err
	}

	info.Mode = types.Mode(mode)
	return &info, nil
}

func scanDocInfo(row pgx.CollectableRow) (*database.DocInfo, error) {
	var info database.DocInfo
	if err := row.Scan(
		&info.ID,
		&info.Content,
		&info.Version,
		&info.Language,
		&info.Metadata.Size,
		&info.Metadata.Lines,
		&info.Metadata.Characters,
		&info.CreatedAt,
		&info.LastModifiedAt,
	); err != nil {
		return nil, err
	}

	return &info, nil
}
