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

package memory

import "github.com/hashicorp/go-memdb"

var (
	tblSessions  = "sessions"
	tblDocuments = "documents"
)

const (
	idxID         = "id"
	idxDocumentID = "document_id"
	idxExpiresAt  = "expires_at"
)

// newSchema returns the schema of the database. Without the document index,
// lookups of the members of a document fall back to a full scan.
func newSchema(withDocumentIndex bool) *memdb.DBSchema {
	sessionIndexes := map[string]*memdb.IndexSchema{
		idxID: {
			Name:    idxID,
			Unique:  true,
			Indexer: &memdb.StringFieldIndex{Field: "ConnectionID"},
		},
		idxExpiresAt: {
			Name:    idxExpiresAt,
			Indexer: &memdb.TimeFieldIndex{Field: "ExpiresAt"},
		},
	}
	if withDocumentIndex {
		sessionIndexes[idxDocumentID] = &memdb.IndexSchema{
			Name:         idxDocumentID,
			AllowMissing: true,
			Indexer:      &memdb.StringFieldIndex{Field: "DocumentID"},
		}
	}

	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tblSessions: {
				Name:    tblSessions,
				Indexes: sessionIndexes,
			},
			tblDocuments: {
				Name: tblDocuments,
				Indexes: map[string]*memdb.IndexSchema{
					idxID: {
						Name:    idxID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
}
