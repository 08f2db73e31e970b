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

// Package mongo implements database interfaces using MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gotime "time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/pkg/ot"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/logging"
)

// Client is a client that connects to Mongo DB and reads or saves Kriya data.
type Client struct {
	config *Config
	client *mongo.Client
	window gotime.Duration

	// docCache holds the last document this node wrote. It is only a guess
	// of the current version: writes are still conditional.
	docCache *lru.Cache[string, *database.DocInfo]
}

// Dial creates an instance of Client and dials the given MongoDB.
func Dial(conf *Config, window gotime.Duration) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.ParseConnectionTimeout())
	defer cancel()

	clientOptions := options.Client().ApplyURI(conf.ConnectionURI)

	if conf.MonitoringEnabled {
		threshold, err := gotime.ParseDuration(conf.MonitoringSlowQueryThreshold)
		if err != nil {
			return nil, fmt.Errorf("parse slow query threshold: %w", err)
		}

		clientOptions.SetMonitor(NewQueryMonitor(threshold).CommandMonitor())
	}

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	ctxPing, cancelPing := context.WithTimeout(ctx, conf.ParsePingTimeout())
	defer cancelPing()

	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	if err := ensureIndexes(ctx, client.Database(conf.KriyaDatabase)); err != nil {
		return nil, err
	}

	docCache, err := lru.New[string, *database.DocInfo](conf.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("initialize docinfo cache: %w", err)
	}

	logging.DefaultLogger().Infof("MongoDB connected, URI: %s, DB: %s", conf.ConnectionURI, conf.KriyaDatabase)

	return &Client{
		config:   conf,
		client:   client,
		window:   window,
		docCache: docCache,
	}, nil
}

// Close all resources of this client.
func (c *Client) Close() error {
	if err := c.client.Disconnect(context.Background()); err != nil {
		return fmt.Errorf("close mongo client: %w", err)
	}

	c.docCache.Purge()

	return nil
}

// UpsertSession creates or refreshes the session of the given connection.
func (c *Client) UpsertSession(
	ctx context.Context,
	connectionID string,
	userID string,
	documentID string,
	mode types.Mode,
) (*database.SessionInfo, error) {
	now := c.now()

	info, err := c.FindSession(ctx, connectionID)
	if errors.Is(err, database.ErrSessionNotFound) {
		info = database.NewSessionInfo(connectionID, userID, documentID, mode, now, c.window)
	} else if err != nil {
		return nil, err
	} else {
		info.Refresh(userID, documentID, mode, now, c.window)
	}

	if _, err := c.collection(ColSessions).ReplaceOne(
		ctx,
		bson.M{"_id": connectionID},
		info,
		options.Replace().SetUpsert(true),
	); err != nil {
		return nil, fmt.Errorf("upsert session of %s: %w", connectionID, err)
	}

	return info, nil
}

// FindSession returns the session of the given connection.
func (c *Client) FindSession(ctx context.Context, connectionID string) (*database.SessionInfo, error) {
	result := c.collection(ColSessions).FindOne(ctx, bson.M{"_id": connectionID})

	var info database.SessionInfo
	if err := result.Decode(&info); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%s: %w", connectionID, database.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("find session of %s: %w", connectionID, err)
	}

	return &info, nil
}

// FindMembersOf returns the live sessions of the given document that had
// activity within the liveness window. When the index is missing, the query
// runs without the hint and scans the collection.
func (c *Client) FindMembersOf(ctx context.Context, documentID string) ([]*database.SessionInfo, error) {
	filter := bson.M{
		"document_id":      documentID,
		"mode":             types.ModeLive,
		"last_activity_at": bson.M{"$gt": c.now().Add(-c.window)},
	}

	cursor, err := c.collection(ColSessions).Find(ctx, filter, options.Find().SetHint(idxDocumentMode))
	if isBadHint(err) {
		logging.From(ctx).Warnf("index %s unavailable, scanning sessions of %s: %v", idxDocumentMode, documentID, err)
		cursor, err = c.collection(ColSessions).Find(ctx, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("find members of %s: %w", documentID, err)
	}

	var infos []*database.SessionInfo
	if err := cursor.All(ctx, &infos); err != nil {
		return nil, fmt.Errorf("fetch members of %s: %w", documentID, err)
	}

	return infos, nil
}

// RemoveSession removes the session of the given connection.
func (c *Client) RemoveSession(ctx context.Context, connectionID string) error {
	if _, err := c.collection(ColSessions).DeleteOne(ctx, bson.M{"_id": connectionID}); err != nil {
		return fmt.Errorf("remove session of %s: %w", connectionID, err)
	}

	return nil
}

// RemoveExpiredSessions removes at most limit sessions that expired before
// now.
func (c *Client) RemoveExpiredSessions(ctx context.Context, now gotime.Time, limit int) (int, error) {
	cursor, err := c.collection(ColSessions).Find(
		ctx,
		bson.M{"expires_at": bson.M{"$lt": now}},
		options.Find().
			SetLimit(int64(limit)).
			SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return 0, fmt.Errorf("find expired sessions: %w", err)
	}

	var expired []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &expired); err != nil {
		return 0, fmt.Errorf("fetch expired sessions: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(expired))
	for _, e := range expired {
		ids = append(ids, e.ID)
	}

	result, err := c.collection(ColSessions).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("remove expired sessions: %w", err)
	}

	return int(result.DeletedCount), nil
}

// FindDocInfo returns the document of the given id.
func (c *Client) FindDocInfo(ctx context.Context, id string) (*database.DocInfo, error) {
	result := c.collection(ColDocuments).FindOne(ctx, bson.M{"_id": id})

	var info database.DocInfo
	if err := result.Decode(&info); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%s: %w", id, database.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("find document of %s: %w", id, err)
	}

	return &info, nil
}

// CreateDocInfo creates a new document.
func (c *Client) CreateDocInfo(ctx context.Context, id, content, language string) (*database.DocInfo, error) {
	info := database.NewDocInfo(id, content, language, c.now())
	if _, err := c.collection(ColDocuments).InsertOne(ctx, info); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%s: %w", id, database.ErrDocumentAlreadyExists)
		}
		return nil, fmt.Errorf("create document of %s: %w", id, err)
	}

	return info, nil
}

// ApplyOperation applies the operation to the document with a write
// conditioned on the version read. A stale cached version costs one extra
// round trip.
func (c *Client) ApplyOperation(ctx context.Context, id string, op ot.Operation) (*database.DocInfo, error) {
	if cached, ok := c.docCache.Get(id); ok {
		info, err := c.updateDocInfo(ctx, cached.DeepCopy(), op)
		if err == nil || !errors.Is(err, database.ErrConflictOnUpdate) {
			return info, err
		}
		c.docCache.Remove(id)
	}

	current, err := c.findOrCreateDocInfo(ctx, id)
	if err != nil {
		return nil, err
	}

	return c.updateDocInfo(ctx, current, op)
}

func (c *Client) findOrCreateDocInfo(ctx context.Context, id string) (*database.DocInfo, error) {
	info, err := c.FindDocInfo(ctx, id)
	if err == nil || !errors.Is(err, database.ErrDocumentNotFound) {
		return info, err
	}

	info, err = c.CreateDocInfo(ctx, id, "", "")
	if errors.Is(err, database.ErrDocumentAlreadyExists) {
		return c.FindDocInfo(ctx, id)
	}

	return info, err
}

func (c *Client) updateDocInfo(
	ctx context.Context,
	info *database.DocInfo,
	op ot.Operation,
) (*database.DocInfo, error) {
	expected := info.Version
	info.ApplyOperation(op, c.now())

	result := c.collection(ColDocuments).FindOneAndUpdate(
		ctx,
		bson.M{"_id": info.ID, "version": expected},
		bson.M{"$set": bson.M{
			"content":          info.Content,
			"version":          info.Version,
			"metadata":         info.Metadata,
			"last_modified_at": info.LastModifiedAt,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var updated database.DocInfo
	if err := result.Decode(&updated); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("update %s at version %d: %w", info.ID, expected, database.ErrConflictOnUpdate)
		}
		return nil, fmt.Errorf("update document of %s: %w", info.ID, err)
	}

	c.docCache.Add(updated.ID, updated.DeepCopy())
	return &updated, nil
}

func (c *Client) collection(name string) *mongo.Collection {
	return c.client.Database(c.config.KriyaDatabase).Collection(name)
}

// now returns the current time at the precision MongoDB stores.
func (c *Client) now() gotime.Time {
	return gotime.Now().UTC().Truncate(gotime.Millisecond)
}

// isBadHint returns whether the error is caused by a hint on a missing index.
func isBadHint(err error) bool {
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}

	return strings.Contains(strings.ToLower(cmdErr.Message), "hint")
}
