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

package dynamo

import (
	"time"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/server/backend/database"
)

// sessionItem is a row of the connections table. Times are stored as Unix
// milliseconds except ttl, which DynamoDB expects in seconds.
type sessionItem struct {
	ConnectionID string `dynamodbav:"connectionId"`
	UserID       string `dynamodbav:"userId"`
	DocumentID   string `dynamodbav:"documentId,omitempty"`
	Mode         string `dynamodbav:"mode"`
	JoinedAt     int64  `dynamodbav:"joinedAt"`
	LastActivity int64  `dynamodbav:"lastActivity"`
	TTL          int64  `dynamodbav:"ttl"`
}

func toSessionItem(info *database.SessionInfo) sessionItem {
	return sessionItem{
		ConnectionID: info.ConnectionID,
		UserID:       info.UserID,
		DocumentID:   info.DocumentID,
		Mode:         string(info.Mode),
		JoinedAt:     info.JoinedAt.UnixMilli(),
		LastActivity: info.LastActivityAt.UnixMilli(),
		TTL:          info.ExpiresAt.Unix(),
	}
}

func (i sessionItem) toSessionInfo() *database.SessionInfo {
	return &database.SessionInfo{
		ConnectionID:   i.ConnectionID,
		UserID:         i.UserID,
		DocumentID:     i.DocumentID,
		Mode:           types.Mode(i.Mode),
		JoinedAt:       time.UnixMilli(i.JoinedAt),
		LastActivityAt: time.UnixMilli(i.LastActivity),
		ExpiresAt:      time.Unix(i.TTL, 0),
	}
}

type metadataItem struct {
	Size       int `dynamodbav:"size"`
	Lines      int `dynamodbav:"lines"`
	Characters int `dynamodbav:"characters"`
}

// docItem is a row of the documents table.
type docItem struct {
	ID           string       `dynamodbav:"id"`
	Content      string       `dynamodbav:"content"`
	Version      int64        `dynamodbav:"version"`
	Language     string       `dynamodbav:"language"`
	Metadata     metadataItem `dynamodbav:"metadata"`
	CreatedAt    int64        `dynamodbav:"createdAt"`
	LastModified int64        `dynamodbav:"lastModified"`
}

func toDocItem(info *database.DocInfo) docItem {
	return docItem{
		ID:       info.ID,
		Content:  info.Content,
		Version:  info.Version,
		Language: info.Language,
		Metadata: metadataItem{
			Size:       info.Metadata.Size,
			Lines:      info.Metadata.Lines,
			Characters: info.Metadata.Characters,
		},
		CreatedAt:    info.CreatedAt.UnixMilli(),
		LastModified: info.LastModifiedAt.UnixMilli(),
	}
}

func (i docItem) toDocInfo() *database.DocInfo {
	return &database.DocInfo{
		ID:       i.ID,
		Content:  i.Content,
		Version:  i.Version,
		Language: i.Language,
		Metadata: database.DocMetadata{
			Size:       i.Metadata.Size,
			Lines:      i.Metadata.Lines,
			Characters: i.Metadata.Characters,
		},
		CreatedAt:      time.UnixMilli(i.CreatedAt),
		LastModifiedAt: time.UnixMilli(i.LastModified),
	}
}
