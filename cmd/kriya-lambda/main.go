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

// Package main is the AWS Lambda entry point of Kriya. It serves the
// $connect, $disconnect and $default routes of an API Gateway WebSocket API
// over DynamoDB.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/kriya-team/kriya/server"
	"github.com/kriya-team/kriya/server/backend"
	"github.com/kriya-team/kriya/server/backend/database/dynamo"
	"github.com/kriya-team/kriya/server/coordinator"
	"github.com/kriya-team/kriya/server/logging"
	"github.com/kriya-team/kriya/server/rpc/apigateway"
)

// Below are the environment variables read on cold start.
const (
	envConnectionsTable = "CONNECTIONS_TABLE"
	envDocumentsTable   = "DOCUMENTS_TABLE"
	envDocumentIndex    = "DOCUMENT_INDEX"
	envDynamoEndpoint   = "DYNAMODB_ENDPOINT"
	envLogLevel         = "LOG_LEVEL"
)

// newConfig returns the config of a function instance. Each invocation is a
// single message, so cursor updates are relayed without throttling.
func newConfig() *server.Config {
	conf := server.NewConfig()
	conf.Backend.CursorThrottleWindow = "0s"
	conf.DynamoDB = &dynamo.Config{
		Region:           os.Getenv("AWS_REGION"),
		Endpoint:         os.Getenv(envDynamoEndpoint),
		ConnectionsTable: getenv(envConnectionsTable, server.DefaultDynamoConnectionsTable),
		DocumentsTable:   getenv(envDocumentsTable, server.DefaultDynamoDocumentsTable),
		DocumentIndex:    getenv(envDocumentIndex, dynamo.DefaultDocumentIndex),
	}
	return conf
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	if err := logging.SetLogFormat(logging.FormatJSON); err != nil {
		log.Fatal(err)
	}
	if err := logging.SetLogLevel(getenv(envLogLevel, "info")); err != nil {
		log.Fatal(err)
	}

	conf := newConfig()
	if err := conf.Backend.Validate(); err != nil {
		log.Fatal(err)
	}
	if err := conf.DynamoDB.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	be, err := backend.New(conf.Backend, conf.DatabaseConfig(), conf.Housekeeping, nil)
	if err != nil {
		log.Fatal(err)
	}

	sender := apigateway.NewSender(apigateway.NewClientFactory(awsCfg))
	handler := apigateway.NewHandler(coordinator.New(be, sender))

	lambda.Start(handler.Handle)
}
