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

// Package apigateway serves the collaboration protocol behind an AWS API
// Gateway WebSocket API. Connections live in the gateway, so events are
// posted back through its management API.
package apigateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/hashicorp/golang-lru/v2/expirable"

	pkgerrors "github.com/kriya-team/kriya/pkg/errors"
	"github.com/kriya-team/kriya/server/backend/broadcast"
)

const (
	clientPoolSize = 16
	clientTTL      = time.Hour
)

// ErrMissingEndpoint is returned when the context carries no endpoint of the
// management API.
var ErrMissingEndpoint = pkgerrors.Internal("management endpoint is missing").WithCode("ErrMissingEndpoint")

// PostToConnectionAPI is the part of the management API used to deliver
// events to connections.
type PostToConnectionAPI interface {
	PostToConnection(
		ctx context.Context,
		params *apigatewaymanagementapi.PostToConnectionInput,
		optFns ...func(*apigatewaymanagementapi.Options),
	) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// ClientFactory creates a client of the management API at the endpoint.
type ClientFactory func(endpoint string) PostToConnectionAPI

// NewClientFactory returns a factory creating clients from the AWS config.
func NewClientFactory(cfg aws.Config) ClientFactory {
	return func(endpoint string) PostToConnectionAPI {
		return apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
}

type endpointKey struct{}

// WithEndpoint returns a context carrying the endpoint of the management API
// of the stage that received the request.
func WithEndpoint(ctx context.Context, endpoint string) context.Context {
	return context.WithValue(ctx, endpointKey{}, endpoint)
}

func endpointFrom(ctx context.Context) string {
	endpoint, _ := ctx.Value(endpointKey{}).(string)
	return endpoint
}

// Sender is a broadcast.Sender posting to connections of the gateway. It
// keeps one client per endpoint.
type Sender struct {
	factory ClientFactory
	clients *expirable.LRU[string, PostToConnectionAPI]
}

// NewSender creates a new instance of Sender.
func NewSender(factory ClientFactory) *Sender {
	return &Sender{
		factory: factory,
		clients: expirable.NewLRU[string, PostToConnectionAPI](clientPoolSize, nil, clientTTL),
	}
}

// Send posts the payload to the connection. A connection the gateway no
// longer knows is reported as broadcast.ErrConnectionGone.
func (s *Sender) Send(ctx context.Context, connectionID string, payload []byte) error {
	endpoint := endpointFrom(ctx)
	if endpoint == "" {
		return ErrMissingEndpoint
	}

	_, err := s.clientOf(endpoint).PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         payload,
	})
	if err != nil {
		var gone *apigwtypes.GoneException
		if errors.As(err, &gone) {
			return fmt.Errorf("%s: %w", connectionID, broadcast.ErrConnectionGone)
		}
		return fmt.Errorf("post to %s: %w", connectionID, err)
	}

	return nil
}

func (s *Sender) clientOf(endpoint string) PostToConnectionAPI {
	if client, ok := s.clients.Get(endpoint); ok {
		return client
	}

	client := s.factory(endpoint)
	s.clients.Add(endpoint, client)
	return client
}
