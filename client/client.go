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

// Package client is a Go client of the websocket gateway. It keeps a local
// replica of one document and rebases remote operations over its own
// operations the server has not confirmed yet.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/pkg/ot"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultEventBufferSize  = 64
)

var (
	// ErrClientClosed occurs when the client is used after it was closed or
	// its connection failed.
	ErrClientClosed = errors.New("client is closed")

	// ErrDocumentNotJoined occurs when an edit is sent before joining.
	ErrDocumentNotJoined = errors.New("document is not joined")
)

// Event is an event received from the server.
type Event struct {
	Type             types.EventType `json:"type"`
	Data             json.RawMessage `json:"data,omitempty"`
	Operation        *ot.Operation   `json:"operation,omitempty"`
	UserID           string          `json:"userId,omitempty"`
	Cursor           *types.Cursor   `json:"cursor,omitempty"`
	Timestamp        int64           `json:"timestamp,omitempty"`
	SourceConnection string          `json:"sourceConnection,omitempty"`
	StatusCode       int             `json:"statusCode,omitempty"`
	Error            string          `json:"error,omitempty"`
	Action           types.Action    `json:"action,omitempty"`
}

// ServerError is an error event answering a request of this client.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Client is a connection to the gateway editing one document at a time.
type Client struct {
	ws      *websocket.Conn
	logger  *zap.Logger
	writeMu sync.Mutex

	mu          sync.RWMutex
	joining     string
	joiningMode types.Mode
	documentID  string
	mode        types.Mode
	text        string
	sync        *ot.Sync

	// inflight holds the number of operations of each operation message
	// the server has not answered yet, oldest first.
	inflight []int
	// resyncs counts the join requests sent to recover from a refused edit
	// whose content has not arrived yet.
	resyncs int

	joined chan joinResult
	events chan Event
	done   chan struct{}
	err    error
}

type joinResult struct {
	content types.DocumentContent
	err     error
}

// Dial connects to the gateway at the given websocket URL, for example
// ws://localhost:11101/ws.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	options := Options{
		HandshakeTimeout: defaultHandshakeTimeout,
		EventBufferSize:  defaultEventBufferSize,
	}
	for _, opt := range opts {
		opt(&options)
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	if options.UserID != "" {
		query := target.Query()
		query.Set("userId", options.UserID)
		target.RawQuery = query.Encode()
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := &websocket.Dialer{HandshakeTimeout: options.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, target.String(), options.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.Redacted(), err)
	}

	c := &Client{
		ws:     ws,
		logger: logger,
		sync:   ot.NewSync(),
		joined: make(chan joinResult, 1),
		events: make(chan Event, options.EventBufferSize),
		done:   make(chan struct{}),
	}
	go c.receive()

	return c, nil
}

// Close closes the connection. The server removes the session and tells
// the other members of the document.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	err := c.ws.Close()
	<-c.done
	return err
}

// Events returns the events received from the server after they were
// applied to the replica. Events are dropped when the buffer is full.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Join joins the document in the given mode and replaces the replica with
// the content the server hands over.
func (c *Client) Join(ctx context.Context, documentID string, mode types.Mode) (types.DocumentContent, error) {
	select {
	case <-c.joined:
	default:
	}

	c.mu.Lock()
	c.joining = documentID
	c.joiningMode = mode
	c.mu.Unlock()

	if err := c.write(types.Request{
		Action:     types.JoinDocument,
		DocumentID: documentID,
		Mode:       mode,
	}); err != nil {
		return types.DocumentContent{}, err
	}

	select {
	case result := <-c.joined:
		if result.err != nil {
			return types.DocumentContent{}, result.err
		}
		return result.content, nil
	case <-c.done:
		return types.DocumentContent{}, c.closedErr()
	case <-ctx.Done():
		return types.DocumentContent{}, ctx.Err()
	}
}

// Insert inserts the content at the position of the replica and sends it.
func (c *Client) Insert(pos int, content string) error {
	return c.edit(&types.OperationRequest{
		Type:     types.InsertOperation,
		Position: pos,
		Content:  content,
	})
}

// Delete deletes length code points at the position and sends it.
func (c *Client) Delete(pos, length int) error {
	return c.edit(&types.OperationRequest{
		Type:     types.DeleteOperation,
		Position: pos,
		Length:   length,
	})
}

// Replace replaces length code points at the position with the content.
func (c *Client) Replace(pos, length int, content string) error {
	return c.edit(&types.OperationRequest{
		Type:     types.ReplaceOperation,
		Position: pos,
		Length:   length,
		Content:  content,
	})
}

// MoveCursor shares the cursor of this client with the other members.
func (c *Client) MoveCursor(line, column int) error {
	documentID, err := c.joinedDocument()
	if err != nil {
		return err
	}

	return c.write(types.Request{
		Action:     types.UpdateCursor,
		DocumentID: documentID,
		Cursor:     &types.Cursor{Line: line, Column: column},
	})
}

// Text returns the text of the replica.
func (c *Client) Text() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.text
}

// Pending returns the number of operations not confirmed yet.
func (c *Client) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sync.Pending()
}

// edit applies the operations of the request to the replica, records them
// as pending and sends the request. The server confirms each operation of
// a decomposed replacement separately. The write lock is held from the local
// apply to the send so pending operations keep the order of the wire.
func (c *Client) edit(req *types.OperationRequest) error {
	documentID, err := c.joinedDocument()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ops := req.Operations("", time.Time{})
	c.mu.Lock()
	for _, op := range ops {
		c.text = ot.Apply(c.text, c.sync.Local(op))
	}
	c.inflight = append(c.inflight, len(ops))
	c.mu.Unlock()

	return c.writeLocked(types.Request{
		Action:     types.SendOperation,
		DocumentID: documentID,
		Operation:  req,
	})
}

func (c *Client) joinedDocument() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.documentID == "" {
		return "", ErrDocumentNotJoined
	}
	return c.documentID, nil
}

func (c *Client) write(req types.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.writeLocked(req)
}

func (c *Client) writeLocked(req types.Request) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	if err := c.ws.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", req.Action, err)
	}
	return nil
}

func (c *Client) closedErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrClientClosed, c.err)
	}
	return ErrClientClosed
}

// receive reads events until the connection fails.
func (c *Client) receive() {
	defer close(c.done)

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			c.logger.Warn("undecodable event", zap.Error(err))
			continue
		}

		c.handle(event)

		select {
		case c.events <- event:
		default:
			c.logger.Debug("event dropped", zap.String("type", string(event.Type)))
		}
	}
}

func (c *Client) handle(event Event) {
	switch event.Type {
	case types.DocumentContentEvent:
		var content types.DocumentContent
		if err := json.Unmarshal(event.Data, &content); err != nil {
			c.resolveJoin(joinResult{err: err})
			return
		}

		c.mu.Lock()
		if c.resyncs > 0 {
			// every edit sent before the rejoin was answered before this
			// content, so what is still pending was sent after it.
			c.resyncs--
			text := content.Content
			for _, op := range c.sync.PendingOps() {
				text = ot.Apply(text, op)
			}
			c.text = text
			c.mu.Unlock()
			return
		}

		// operations relayed after the content apply to the new replica.
		c.documentID = c.joining
		c.mode = c.joiningMode
		c.text = content.Content
		c.sync = ot.NewSync()
		c.inflight = nil
		c.mu.Unlock()
		c.resolveJoin(joinResult{content: content})
	case types.OperationEvent:
		if event.Operation == nil {
			return
		}
		c.mu.Lock()
		c.text = ot.Apply(c.text, c.sync.Receive(*event.Operation))
		c.mu.Unlock()
	case types.OperationConfirmedEvent:
		c.mu.Lock()
		if _, ok := c.sync.Confirm(); !ok {
			c.logger.Warn("confirmation without pending operation")
		}
		if len(c.inflight) > 0 {
			if c.inflight[0]--; c.inflight[0] <= 0 {
				c.inflight = c.inflight[1:]
			}
		}
		c.mu.Unlock()
	case types.ErrorEvent:
		c.logger.Warn("server error",
			zap.Int("status", event.StatusCode),
			zap.String("action", string(event.Action)),
			zap.String("error", event.Error),
		)
		switch {
		case event.Action == types.SendOperation:
			c.reject()
		case event.Action == types.JoinDocument && c.takeResync():
		default:
			c.resolveJoin(joinResult{err: &ServerError{StatusCode: event.StatusCode, Message: event.Error}})
		}
	}
}

// reject discards the operations of the oldest unanswered edit, which the
// server refused, and rejoins the document to replace the replica with the
// server's text.
func (c *Client) reject() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	var refused int
	if len(c.inflight) > 0 {
		refused = c.sync.Drop(c.inflight[0])
		c.inflight = c.inflight[1:]
	}
	documentID, mode := c.documentID, c.mode
	if refused == 0 || documentID == "" {
		c.mu.Unlock()
		return
	}
	c.resyncs++
	c.mu.Unlock()

	if err := c.writeLocked(types.Request{
		Action:     types.JoinDocument,
		DocumentID: documentID,
		Mode:       mode,
	}); err != nil {
		c.logger.Warn("resync failed", zap.String("document", documentID), zap.Error(err))
		c.takeResync()
	}
}

// takeResync reports whether a refused join was one sent by reject.
func (c *Client) takeResync() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resyncs == 0 {
		return false
	}
	c.resyncs--
	return true
}

// resolveJoin hands the result to a waiting Join. Results nobody waits for
// are dropped.
func (c *Client) resolveJoin(result joinResult) {
	select {
	case c.joined <- result:
	default:
	}
}
