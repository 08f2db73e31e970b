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

package database

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kriya-team/kriya/pkg/ot"
)

// DocMetadata is derived from the content of a document on every write.
type DocMetadata struct {
	// Size is the size of the content in bytes.
	Size int `bson:"size"`

	// Lines is the number of lines of the content.
	Lines int `bson:"lines"`

	// Characters is the number of characters of the content.
	Characters int `bson:"characters"`
}

// MetadataOf computes the metadata of the given content.
func MetadataOf(content string) DocMetadata {
	return DocMetadata{
		Size:       len(content),
		Lines:      strings.Count(content, "\n") + 1,
		Characters: utf8.RuneCountInString(content),
	}
}

// DocInfo is a structure representing information of the document.
type DocInfo struct {
	// ID is the unique ID of the document.
	ID string `bson:"_id"`

	// Content is the text of the document.
	Content string `bson:"content"`

	// Version is the number of writes applied to the document.
	Version int64 `bson:"version"`

	// Language is the language of the document, e.g. "javascript".
	Language string `bson:"language"`

	// Metadata is derived from Content.
	Metadata DocMetadata `bson:"metadata"`

	// CreatedAt is the time when the document is created.
	CreatedAt time.Time `bson:"created_at"`

	// LastModifiedAt is the time when the document is updated.
	LastModifiedAt time.Time `bson:"last_modified_at"`
}

// NewDocInfo creates a new document at version 0.
func NewDocInfo(id, content, language string, now time.Time) *DocInfo {
	if language == "" {
		language = DefaultLanguage
	}

	return &DocInfo{
		ID:             id,
		Content:        content,
		Language:       language,
		Metadata:       MetadataOf(content),
		CreatedAt:      now,
		LastModifiedAt: now,
	}
}

// ApplyOperation applies the given operation to the content and increases
// the version. The content of an insertion is truncated to MaxInsertLength.
func (info *DocInfo) ApplyOperation(op ot.Operation, now time.Time) {
	if op.Kind == ot.Insert && utf8.RuneCountInString(op.Content) > MaxInsertLength {
		op.Content = string([]rune(op.Content)[:MaxInsertLength])
	}

	info.Content = ot.Apply(info.Content, op)
	info.Metadata = MetadataOf(info.Content)
	info.Version++
	info.LastModifiedAt = now
}

// DeepCopy creates a deep copy of this DocInfo.
func (info *DocInfo) DeepCopy() *DocInfo {
	if info == nil {
		return nil
	}

	clone := *info
	return &clone
}
