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
	"errors"
	"fmt"
)

const (
	// DefaultDocumentIndex is the name of the global secondary index of the
	// connections table keyed by document.
	DefaultDocumentIndex = "DocumentIdIndex"
)

// Config is the configuration for creating a Client instance.
type Config struct {
	// Region is the AWS region of the tables.
	Region string `yaml:"Region"`

	// Endpoint overrides the DynamoDB endpoint, e.g. a local DynamoDB.
	Endpoint string `yaml:"Endpoint"`

	// ConnectionsTable is the table of sessions keyed by connectionId.
	ConnectionsTable string `yaml:"ConnectionsTable"`

	// DocumentsTable is the table of documents keyed by id.
	DocumentsTable string `yaml:"DocumentsTable"`

	// DocumentIndex is the index of ConnectionsTable keyed by documentId.
	DocumentIndex string `yaml:"DocumentIndex"`

	// CreateTables creates missing tables on dial.
	CreateTables bool `yaml:"CreateTables"`
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if c.ConnectionsTable == "" {
		return errors.New(`"--dynamodb-connections-table" flag is required`)
	}
	if c.DocumentsTable == "" {
		return errors.New(`"--dynamodb-documents-table" flag is required`)
	}
	if c.ConnectionsTable == c.DocumentsTable {
		return fmt.Errorf("connections and documents tables must differ: %s", c.ConnectionsTable)
	}

	return nil
}
