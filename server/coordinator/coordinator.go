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

// Package coordinator handles the messages of connections attached to
// documents. Each message is validated, persisted when it edits a document,
// then fanned out to the other live members of the document.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/pkg/cmap"
	pkgerrors "github.com/kriya-team/kriya/pkg/errors"
	"github.com/kriya-team/kriya/pkg/limit"
	"github.com/kriya-team/kriya/pkg/ot"
	"github.com/kriya-team/kriya/server/backend"
	"github.com/kriya-team/kriya/server/backend/broadcast"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/logging"
)

// ErrCursorOutOfBounds is returned when a cursor points past the caps.
var ErrCursorOutOfBounds = pkgerrors.InvalidArgument("cursor position out of bounds").WithCode("ErrCursorOutOfBounds")

// Coordinator routes the messages of connections between the stores and the
// other connections.
type Coordinator struct {
	be          *backend.Backend
	broadcaster *broadcast.Broadcaster
	breaker     *gobreaker.CircuitBreaker

	snapshots singleflight.Group
	leaves    singleflight.Group
	cursors   *cmap.Map[string, *limit.Throttler]

	cursorWindow time.Duration
	maxLine      int
	maxColumn    int
	now          func() time.Time
}

// New creates a new Coordinator that delivers events through the given sender.
func New(be *backend.Backend, sender broadcast.Sender) *Coordinator {
	conf := be.Config

	c := &Coordinator{
		be:           be,
		cursors:      cmap.New[string, *limit.Throttler](),
		cursorWindow: conf.ParseCursorThrottleWindow(),
		maxLine:      conf.MaxCursorLine,
		maxColumn:    conf.MaxCursorColumn,
		now:          time.Now,
	}
	c.broadcaster = broadcast.New(broadcast.Config{
		Timeout:        conf.ParseBroadcastTimeout(),
		PageSize:       conf.BroadcastPageSize,
		MaxConcurrency: conf.BroadcastMaxConcurrency,
		Reclaim:        c.reclaim,
	}, sender, be.DB, be.Metrics)

	failures := conf.PersistBreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "persist",
		Timeout: conf.ParsePersistBreakerTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.DefaultLogger().Warnf("breaker %s: %s -> %s", name, from, to)
		},
	})

	return c
}

// Connect registers a connection that has not joined any document yet. The
// user id is trusted as is.
func (c *Coordinator) Connect(ctx context.Context, connectionID, userID string) error {
	if userID == "" {
		userID = connectionID
	}

	if _, err := c.be.DB.UpsertSession(ctx, connectionID, userID, "", types.ModeSolo); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrCodeUnavailable, "connect "+connectionID)
	}

	logging.From(ctx).Debugf("connected %s as %s", connectionID, userID)
	return nil
}

// Disconnect removes the session of the connection and tells the remaining
// members of its document that it left.
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) error {
	return c.leave(ctx, connectionID)
}

// reclaim makes connections reported as gone by a delivery leave their
// documents, as if they had disconnected.
func (c *Coordinator) reclaim(ctx context.Context, connectionIDs []string) {
	for _, connectionID := range connectionIDs {
		if err := c.leave(ctx, connectionID); err != nil {
			logging.From(ctx).Warnf("reclaim %s: %v", connectionID, err)
			continue
		}
		logging.From(ctx).Infof("reclaimed gone connection %s", connectionID)
	}
}

// leave removes the session of the connection and sends user-left to the
// remaining members when it was live on a document. A connection that has
// no session left already.
func (c *Coordinator) leave(ctx context.Context, connectionID string) error {
	_, err, _ := c.leaves.Do(connectionID, func() (interface{}, error) {
		if throttler, ok := c.cursors.Delete(connectionID); ok {
			throttler.Stop()
		}

		session, err := c.be.DB.FindSession(ctx, connectionID)
		if errors.Is(err, database.ErrSessionNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrCodeUnavailable, "leave "+connectionID)
		}

		if err := c.be.DB.RemoveSession(ctx, connectionID); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrCodeUnavailable, "leave "+connectionID)
		}

		if !session.Mode.IsLive() || session.DocumentID == "" {
			return nil, nil
		}

		peers := c.peersOf(ctx, session.DocumentID, connectionID)
		result := c.broadcast(ctx, peers, types.NewUserLeft(session.UserID, connectionID))
		logging.From(ctx).Infof("%s left %s, notified %d/%d",
			connectionID, session.DocumentID, result.Success, result.Total())
		return nil, nil
	})
	return err
}

// HandleMessage handles one inbound message of the connection. A rejected
// message is answered with an error event and its error is returned. Errors
// of the stores and of the deliveries that do not prevent the collaboration
// are logged and swallowed.
func (c *Coordinator) HandleMessage(ctx context.Context, connectionID string, payload []byte) (err error) {
	start := time.Now()
	action := "unknown"
	defer func() {
		if c.be.Metrics == nil {
			return
		}
		status := "ok"
		if err != nil {
			status = pkgerrors.StatusOf(err).String()
		}
		c.be.Metrics.AddMessageHandled(action, status)
		c.be.Metrics.ObserveMessageHandlingSeconds(action, time.Since(start).Seconds())
	}()

	req, err := types.ParseRequest(payload)
	if err != nil {
		logging.From(ctx).Warnf("reject message of %s: %v", connectionID, err)
		c.reply(ctx, connectionID, types.NewRejection(types.ActionOf(payload), err))
		return err
	}
	action = string(req.Action)

	switch req.Action {
	case types.JoinDocument:
		err = c.join(ctx, connectionID, req.DocumentID, req.Mode)
	case types.SendOperation:
		err = c.operate(ctx, connectionID, req.DocumentID, req.Operation)
	case types.UpdateCursor:
		err = c.moveCursor(ctx, connectionID, req.DocumentID, *req.Cursor)
	default:
		err = fmt.Errorf("%s: %w", req.Action, types.ErrUnknownAction)
	}

	if err != nil {
		logging.From(ctx).Warnf("%s of %s failed: %v", req.Action, connectionID, err)
		c.reply(ctx, connectionID, types.NewRejection(req.Action, err))
	}
	return err
}

// join attaches the connection to the document. A live joiner receives the
// current content and is announced to the other members.
func (c *Coordinator) join(ctx context.Context, connectionID, documentID string, mode types.Mode) error {
	previous, err := c.be.DB.FindSession(ctx, connectionID)
	if err != nil && !errors.Is(err, database.ErrSessionNotFound) {
		logging.From(ctx).Warnf("find session %s: %v", connectionID, err)
	}

	session, err := c.be.DB.UpsertSession(ctx, connectionID, "", documentID, mode)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrCodeUnavailable, "join "+documentID)
	}

	// Switching documents leaves the previous one.
	if previous != nil && previous.Mode.IsLive() && previous.DocumentID != "" && previous.DocumentID != documentID {
		peers := c.peersOf(ctx, previous.DocumentID, connectionID)
		c.broadcast(ctx, peers, types.NewUserLeft(session.UserID, connectionID))
	}

	if !mode.IsLive() {
		c.reply(ctx, connectionID, types.NewDocumentContent(types.DocumentContent{
			Language: database.DefaultLanguage,
		}))
		return nil
	}

	if content, ok := c.snapshot(ctx, documentID); ok {
		c.reply(ctx, connectionID, types.NewDocumentContent(content))
	}

	peers := c.peersOf(ctx, documentID, connectionID)
	result := c.broadcast(ctx, peers, types.NewUserJoined(connectionID, c.now()))
	logging.From(ctx).Infof("joined %s, notified %d/%d", documentID, result.Success, result.Total())
	return nil
}

// snapshot returns the content a joiner starts from. Concurrent joiners of
// the same document share one read. It returns false if the document could
// not be read.
func (c *Coordinator) snapshot(ctx context.Context, documentID string) (types.DocumentContent, bool) {
	v, err, _ := c.snapshots.Do(documentID, func() (any, error) {
		return c.be.Documents.FindDocInfo(ctx, documentID)
	})
	if errors.Is(err, database.ErrDocumentNotFound) {
		return types.DocumentContent{Language: database.DefaultLanguage}, true
	}
	if err != nil {
		logging.From(ctx).Warnf("fetch %s for joiner: %v", documentID, err)
		return types.DocumentContent{}, false
	}

	info := v.(*database.DocInfo)
	return types.DocumentContent{
		Content:      info.Content,
		Version:      info.Version,
		Language:     info.Language,
		LastModified: types.Millis(info.LastModifiedAt),
	}, true
}

// operate persists the operation and relays it to the other members. The
// relay goes out even if the operation could not be persisted.
func (c *Coordinator) operate(
	ctx context.Context,
	connectionID string,
	documentID string,
	req *types.OperationRequest,
) error {
	now := c.now()
	authorID, solo := c.authorOf(ctx, connectionID, documentID)
	ops := req.Operations(authorID, now)

	if !solo {
		c.persist(ctx, documentID, ops)

		peers := c.peersOf(ctx, documentID, connectionID)
		for _, op := range ops {
			result := c.broadcast(ctx, peers, types.NewOperation(op, connectionID, now))
			logging.From(ctx).Debugf("relayed %s on %s to %d/%d", op, documentID, result.Success, result.Total())
		}
	}

	for _, op := range ops {
		c.reply(ctx, connectionID, types.NewOperationConfirmed(op, now))
	}
	return nil
}

// authorOf returns the user that authored an operation of the connection and
// whether the connection edits the document alone.
func (c *Coordinator) authorOf(ctx context.Context, connectionID, documentID string) (string, bool) {
	session, err := c.be.DB.FindSession(ctx, connectionID)
	if err != nil {
		if !errors.Is(err, database.ErrSessionNotFound) {
			logging.From(ctx).Warnf("find session %s: %v", connectionID, err)
		}
		return connectionID, false
	}

	solo := session.DocumentID == documentID && !session.Mode.IsLive()
	return session.UserID, solo
}

// persist writes the operations to the document. A failure is logged and
// counted, never returned.
func (c *Coordinator) persist(ctx context.Context, documentID string, ops []ot.Operation) {
	v, err := c.breaker.Execute(func() (any, error) {
		return c.be.Documents.ApplyOperations(ctx, documentID, ops...)
	})
	if err != nil {
		logging.From(ctx).Errorf("persist %d operations on %s: %v", len(ops), documentID, err)
		if c.be.Metrics != nil {
			c.be.Metrics.AddPersistenceFailure()
		}
		return
	}

	if info, ok := v.(*database.DocInfo); ok && info != nil {
		logging.From(ctx).Debugf("persisted %s at version %d", documentID, info.Version)
	}
}

// moveCursor relays the cursor to the other members. Cursors of a
// connection are throttled and the latest one always goes out.
func (c *Coordinator) moveCursor(
	ctx context.Context,
	connectionID string,
	documentID string,
	cursor types.Cursor,
) error {
	if cursor.Line > c.maxLine || cursor.Column > c.maxColumn {
		return fmt.Errorf("cursor %d:%d: %w", cursor.Line, cursor.Column, ErrCursorOutOfBounds)
	}

	relay := func() {
		peers := c.peersOf(ctx, documentID, connectionID)
		c.broadcast(ctx, peers, types.NewCursorUpdate(connectionID, cursor, c.now()))
	}

	if c.cursorWindow <= 0 {
		relay()
		return nil
	}

	// The trailing relay outlives the message, so it must not inherit the
	// cancellation of the message.
	ctx = context.WithoutCancel(ctx)
	throttler, _ := c.cursors.GetOrCreate(connectionID, func() *limit.Throttler {
		return limit.New(c.cursorWindow)
	})
	throttler.Run(relay)
	return nil
}

// peersOf returns the live members of the document except the connection.
// A failing lookup yields no peers.
func (c *Coordinator) peersOf(ctx context.Context, documentID, connectionID string) []string {
	members, err := c.be.DB.FindMembersOf(ctx, documentID)
	if err != nil {
		logging.From(ctx).Warnf("find members of %s: %v", documentID, err)
		return nil
	}

	peers := make([]string, 0, len(members))
	for _, member := range members {
		if member.ConnectionID != connectionID {
			peers = append(peers, member.ConnectionID)
		}
	}
	return peers
}

func (c *Coordinator) broadcast(ctx context.Context, connectionIDs []string, event types.Event) broadcast.Result {
	if len(connectionIDs) == 0 {
		return broadcast.Result{}
	}

	payload, err := event.Bytes()
	if err != nil {
		logging.From(ctx).Errorf("encode %s: %v", event.Type, err)
		return broadcast.Result{Failure: len(connectionIDs)}
	}

	return c.broadcaster.Broadcast(ctx, connectionIDs, payload)
}

// reply sends the event to the connection the message came from.
func (c *Coordinator) reply(ctx context.Context, connectionID string, event types.Event) {
	if result := c.broadcast(ctx, []string{connectionID}, event); result.Failure > 0 {
		logging.From(ctx).Debugf("reply %s to %s failed", event.Type, connectionID)
	}
}
