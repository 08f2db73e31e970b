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

package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	// ColSessions represents the sessions collection in the database.
	ColSessions = "sessions"
	// ColDocuments represents the documents collection in the database.
	ColDocuments = "documents"
)

const (
	// idxDocumentMode is the name of the index that finds the members of a
	// document.
	idxDocumentMode = "document_id_mode"
	// idxExpiresAt is the name of the index that finds expired sessions.
	idxExpiresAt = "expires_at"
)

// Collections represents the list of all collections in the database.
var Collections = []string{
	ColSessions,
	ColDocuments,
}

type collectionInfo struct {
	name    string
	indexes []mongo.IndexModel
}

// Below are names and indexes information of Collections that stores Kriya data.
var collectionInfos = []collectionInfo{
	{
		name: ColSessions,
		indexes: []mongo.IndexModel{{
			Keys: bson.D{
				{Key: "document_id", Value: int32(1)},
				{Key: "mode", Value: int32(1)},
				{Key: "last_activity_at", Value: int32(1)},
			},
			Options: options.Index().SetName(idxDocumentMode),
		}, {
			Keys:    bson.D{{Key: "expires_at", Value: int32(1)}},
			Options: options.Index().SetName(idxExpiresAt),
		}},
	},
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	for _, info := range collectionInfos {
		_, err := db.Collection(info.name).Indexes().CreateMany(ctx, info.indexes)
		if err != nil {
			return fmt.Errorf("create indexes: %w", err)
		}
	}
	return nil
}
