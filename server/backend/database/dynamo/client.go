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

// Package dynamo implements database interfaces using Amazon DynamoDB. The
// table layout is shared with the API Gateway deployment: sessions live in a
// connections table with a global secondary index on documentId and a TTL
// attribute, documents live in a documents table keyed by id.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gotime "time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/pkg/ot"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/logging"
)

// Client is a client that connects to DynamoDB and reads or saves Kriya data.
type Client struct {
	config *Config
	client *dynamodb.Client
	window gotime.Duration
}

// Dial creates an instance of Client with the default AWS credential chain.
func Dial(ctx context.Context, conf *Config, window gotime.Duration) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if conf.Region != "" {
		opts = append(opts, awsconfig.WithRegion(conf.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
		}
	})

	c := &Client{
		config: conf,
		client: client,
		window: window,
	}

	if conf.CreateTables {
		if err := c.ensureTables(ctx); err != nil {
			return nil, err
		}
	}

	logging.DefaultLogger().Infof(
		"DynamoDB connected, connections: %s, documents: %s",
		conf.ConnectionsTable,
		conf.DocumentsTable,
	)

	return c, nil
}

// Close all resources of this client.
func (c *Client) Close() error {
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

	item, err := attributevalue.MarshalMap(toSessionItem(info))
	if err != nil {
		return nil, fmt.Errorf("marshal session of %s: %w", connectionID, err)
	}

	if _, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.config.ConnectionsTable),
		Item:      item,
	}); err != nil {
		return nil, fmt.Errorf("upsert session of %s: %w", connectionID, err)
	}

	return info, nil
}

// FindSession returns the session of the given connection.
func (c *Client) FindSession(ctx context.Context, connectionID string) (*database.SessionInfo, error) {
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.config.ConnectionsTable),
		Key:            connectionKey(connectionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("find session of %s: %w", connectionID, err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%s: %w", connectionID, database.ErrSessionNotFound)
	}

	var item sessionItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal session of %s: %w", connectionID, err)
	}

	return item.toSessionInfo(), nil
}

// FindMembersOf returns the live sessions of the given document that had
// activity within the liveness window. It queries the document index and
// scans the table when the index is unavailable.
func (c *Client) FindMembersOf(ctx context.Context, documentID string) ([]*database.SessionInfo, error) {
	cutoff := c.now().Add(-c.window).UnixMilli()
	live := expression.Name("mode").Equal(expression.Value(string(types.ModeLive))).
		And(expression.Name("lastActivity").GreaterThan(expression.Value(cutoff)))

	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("documentId").Equal(expression.Value(documentID))).
		WithFilter(live).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build members query of %s: %w", documentID, err)
	}

	paginator := dynamodb.NewQueryPaginator(c.client, &dynamodb.QueryInput{
		TableName:                 aws.String(c.config.ConnectionsTable),
		IndexName:                 aws.String(c.config.DocumentIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var items []map[string]dbtypes.AttributeValue
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if isIndexUnavailable(err) {
			logging.From(ctx).Warnf(
				"index %s unavailable, scanning sessions of %s: %v",
				c.config.DocumentIndex,
				documentID,
				err,
			)
			return c.scanMembersOf(ctx, documentID, live)
		}
		if err != nil {
			return nil, fmt.Errorf("query members of %s: %w", documentID, err)
		}
		items = append(items, page.Items...)
	}

	return unmarshalSessions(items)
}

func (c *Client) scanMembersOf(
	ctx context.Context,
	documentID string,
	live expression.ConditionBuilder,
) ([]*database.SessionInfo, error) {
	filter := expression.Name("documentId").Equal(expression.Value(documentID)).And(live)
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("build members scan of %s: %w", documentID, err)
	}

	items, err := c.scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(c.config.ConnectionsTable),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("scan members of %s: %w", documentID, err)
	}

	return unmarshalSessions(items)
}

// RemoveSession removes the session of the given connection.
func (c *Client) RemoveSession(ctx context.Context, connectionID string) error {
	if _, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.config.ConnectionsTable),
		Key:       connectionKey(connectionID),
	}); err != nil {
		return fmt.Errorf("remove session of %s: %w", connectionID, err)
	}

	return nil
}

// RemoveExpiredSessions removes at most limit sessions whose ttl passed.
// DynamoDB deletes expired items on its own, but only eventually.
func (c *Client) RemoveExpiredSessions(ctx context.Context, now gotime.Time, limit int) (int, error) {
	expr, err := expression.NewBuilder().
		WithFilter(expression.Name("ttl").LessThan(expression.Value(now.Unix()))).
		WithProjection(expression.NamesList(expression.Name("connectionId"))).
		Build()
	if err != nil {
		return 0, fmt.Errorf("build expired sessions scan: %w", err)
	}

	items, err := c.scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(c.config.ConnectionsTable),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, limit)
	if err != nil {
		return 0, fmt.Errorf("find expired sessions: %w", err)
	}

	removed := 0
	for _, raw := range items {
		var item sessionItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return removed, fmt.Errorf("unmarshal expired session: %w", err)
		}
		if err := c.RemoveSession(ctx, item.ConnectionID); err != nil {
			return removed, err
		}
		removed++
	}

	return removed, nil
}

// FindDocInfo returns the document of the given id.
func (c *Client) FindDocInfo(ctx context.Context, id string) (*database.DocInfo, error) {
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.config.DocumentsTable),
		Key:            documentKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("find document of %s: %w", id, err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%s: %w", id, database.ErrDocumentNotFound)
	}

	var item docItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal document of %s: %w", id, err)
	}

	return item.toDocInfo(), nil
}

// CreateDocInfo creates a new document.
func (c *Client) CreateDocInfo(ctx context.Context, id, content, language string) (*database.DocInfo, error) {
	info := database.NewDocInfo(id, content, language, c.now())

	err := c.putDocInfo(ctx, info, expression.Name("id").AttributeNotExists())
	if errors.Is(err, database.ErrConflictOnUpdate) {
		return nil, fmt.Errorf("%s: %w", id, database.ErrDocumentAlreadyExists)
	}
	if err != nil {
		return nil, err
	}

	return info, nil
}

// ApplyOperation applies the operation to the document with a write
// conditioned on the version read.
func (c *Client) ApplyOperation(ctx context.Context, id string, op ot.Operation) (*database.DocInfo, error) {
	now := c.now()

	info, err := c.FindDocInfo(ctx, id)
	var condition expression.ConditionBuilder
	switch {
	case errors.Is(err, database.ErrDocumentNotFound):
		info = database.NewDocInfo(id, "", "", now)
		condition = expression.Name("id").AttributeNotExists()
	case err != nil:
		return nil, err
	default:
		condition = expression.Name("version").Equal(expression.Value(info.Version))
	}

	info.ApplyOperation(op, now)
	if err := c.putDocInfo(ctx, info, condition); err != nil {
		return nil, err
	}

	return info, nil
}

func (c *Client) putDocInfo(
	ctx context.Context,
	info *database.DocInfo,
	condition expression.ConditionBuilder,
) error {
	item, err := attributevalue.MarshalMap(toDocItem(info))
	if err != nil {
		return fmt.Errorf("marshal document of %s: %w", info.ID, err)
	}

	expr, err := expression.NewBuilder().WithCondition(condition).Build()
	if err != nil {
		return fmt.Errorf("build condition of %s: %w", info.ID, err)
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(c.config.DocumentsTable),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("put %s at version %d: %w", info.ID, info.Version, database.ErrConflictOnUpdate)
		}
		return fmt.Errorf("put document of %s: %w", info.ID, err)
	}

	return nil
}

// scan returns the items matching the input across pages. A positive limit
// stops the scan once that many items are found.
func (c *Client) scan(
	ctx context.Context,
	input *dynamodb.ScanInput,
	limit int,
) ([]map[string]dbtypes.AttributeValue, error) {
	var items []map[string]dbtypes.AttributeValue

	paginator := dynamodb.NewScanPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		items = append(items, page.Items...)
		if limit > 0 && len(items) >= limit {
			return items[:limit], nil
		}
	}

	return items, nil
}

func (c *Client) ensureTables(ctx context.Context) error {
	tables := []*dynamodb.CreateTableInput{{
		TableName:   aws.String(c.config.ConnectionsTable),
		BillingMode: dbtypes.BillingModePayPerRequest,
		AttributeDefinitions: []dbtypes.AttributeDefinition{
			{AttributeName: aws.String("connectionId"), AttributeType: dbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("documentId"), AttributeType: dbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String("connectionId"), KeyType: dbtypes.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []dbtypes.GlobalSecondaryIndex{{
			IndexName: aws.String(DefaultDocumentIndex),
			KeySchema: []dbtypes.KeySchemaElement{
				{AttributeName: aws.String("documentId"), KeyType: dbtypes.KeyTypeHash},
			},
			Projection: &dbtypes.Projection{ProjectionType: dbtypes.ProjectionTypeAll},
		}},
	}, {
		TableName:   aws.String(c.config.DocumentsTable),
		BillingMode: dbtypes.BillingModePayPerRequest,
		AttributeDefinitions: []dbtypes.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: dbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: dbtypes.KeyTypeHash},
		},
	}}

	for _, table := range tables {
		_, err := c.client.CreateTable(ctx, table)
		var inUse *dbtypes.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", aws.ToString(table.TableName), err)
		}
	}

	return nil
}

// now returns the current time at the precision the tables store.
func (c *Client) now() gotime.Time {
	return gotime.Now().Truncate(gotime.Millisecond)
}

func connectionKey(connectionID string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		"connectionId": &dbtypes.AttributeValueMemberS{Value: connectionID},
	}
}

func documentKey(id string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		"id": &dbtypes.AttributeValueMemberS{Value: id},
	}
}

func unmarshalSessions(items []map[string]dbtypes.AttributeValue) ([]*database.SessionInfo, error) {
	var records []sessionItem
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, fmt.Errorf("unmarshal sessions: %w", err)
	}

	infos := make([]*database.SessionInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, record.toSessionInfo())
	}
	return infos, nil
}

// isIndexUnavailable returns whether the error says the index does not exist
// or is not queryable yet.
func isIndexUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var notFound *dbtypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException" {
		return strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "index")
	}

	return false
}
