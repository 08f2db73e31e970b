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

package apigateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	gosync "sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/server/backend"
	"github.com/kriya-team/kriya/server/backend/broadcast"
	"github.com/kriya-team/kriya/server/backend/database/memory"
	"github.com/kriya-team/kriya/server/backend/sync"
	"github.com/kriya-team/kriya/server/coordinator"
	"github.com/kriya-team/kriya/server/documents"
	"github.com/kriya-team/kriya/server/rpc/apigateway"
)

// gateway fakes the management API. Connections it does not know are gone.
type gateway struct {
	mu        gosync.Mutex
	endpoints []string
	alive     map[string]bool
	posted    map[string][]map[string]any
}

func newGateway() *gateway {
	return &gateway{alive: map[string]bool{}, posted: map[string][]map[string]any{}}
}

func (g *gateway) factory(endpoint string) apigateway.PostToConnectionAPI {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endpoints = append(g.endpoints, endpoint)
	return g
}

func (g *gateway) PostToConnection(
	_ context.Context,
	params *apigatewaymanagementapi.PostToConnectionInput,
	_ ...func(*apigatewaymanagementapi.Options),
) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := *params.ConnectionId
	if !g.alive[id] {
		return nil, &apigwtypes.GoneException{}
	}

	event := map[string]any{}
	if err := json.Unmarshal(params.Data, &event); err != nil {
		return nil, err
	}
	g.posted[id] = append(g.posted[id], event)
	return &apigatewaymanagementapi.PostToConnectionOutput{}, nil
}

func (g *gateway) connect(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alive[id] = true
}

func (g *gateway) disconnect(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.alive, id)
}

func (g *gateway) typesOf(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var result []string
	for _, event := range g.posted[id] {
		result = append(result, event["type"].(string))
	}
	return result
}

func newHandler(t *testing.T, gw *gateway) *apigateway.Handler {
	db, err := memory.New()
	require.NoError(t, err)

	lockers := sync.New()
	be := &backend.Backend{
		Config: &backend.Config{
			LivenessWindow:        "24h",
			BroadcastTimeout:      "1s",
			BroadcastPageSize:     50,
			PersistBreakerTimeout: "10s",
			CursorThrottleWindow:  "0s",
			MaxCursorLine:         10000,
			MaxCursorColumn:       1000,
		},
		Lockers:   lockers,
		Documents: documents.New(db, documents.WithLockerManager(lockers)),
		DB:        db,
	}

	return apigateway.NewHandler(coordinator.New(be, apigateway.NewSender(gw.factory)))
}

func request(route, connectionID, body string) events.APIGatewayWebsocketProxyRequest {
	return events.APIGatewayWebsocketProxyRequest{
		Body: body,
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			RouteKey:     route,
			ConnectionID: connectionID,
			DomainName:   "abc.execute-api.us-east-1.amazonaws.com",
			Stage:        "prod",
		},
	}
}

func TestSender(t *testing.T) {
	t.Run("missing endpoint test", func(t *testing.T) {
		sender := apigateway.NewSender(newGateway().factory)
		err := sender.Send(context.Background(), "c1", []byte("{}"))
		assert.ErrorIs(t, err, apigateway.ErrMissingEndpoint)
	})

	t.Run("gone exception is a gone connection test", func(t *testing.T) {
		gw := newGateway()
		sender := apigateway.NewSender(gw.factory)
		ctx := apigateway.WithEndpoint(context.Background(), "https://a/prod")

		err := sender.Send(ctx, "c1", []byte("{}"))
		assert.ErrorIs(t, err, broadcast.ErrConnectionGone)

		gw.connect("c1")
		assert.NoError(t, sender.Send(ctx, "c1", []byte(`{"type":"x"}`)))
		assert.Equal(t, []string{"x"}, gw.typesOf("c1"))
	})

	t.Run("one client per endpoint test", func(t *testing.T) {
		gw := newGateway()
		gw.connect("c1")
		sender := apigateway.NewSender(gw.factory)

		for _, endpoint := range []string{"https://a/prod", "https://a/prod", "https://b/prod"} {
			ctx := apigateway.WithEndpoint(context.Background(), endpoint)
			assert.NoError(t, sender.Send(ctx, "c1", []byte("{}")))
		}
		assert.Equal(t, []string{"https://a/prod", "https://b/prod"}, gw.endpoints)
	})

	t.Run("other failures are not gone test", func(t *testing.T) {
		failing := func(string) apigateway.PostToConnectionAPI { return failingAPI{} }
		sender := apigateway.NewSender(failing)
		ctx := apigateway.WithEndpoint(context.Background(), "https://a/prod")

		err := sender.Send(ctx, "c1", []byte("{}"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, broadcast.ErrConnectionGone)
	})
}

type failingAPI struct{}

func (failingAPI) PostToConnection(
	context.Context,
	*apigatewaymanagementapi.PostToConnectionInput,
	...func(*apigatewaymanagementapi.Options),
) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	return nil, errors.New("throttled")
}

func TestHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("missing connection id test", func(t *testing.T) {
		h := newHandler(t, newGateway())
		resp, err := h.Handle(ctx, request(apigateway.DefaultRoute, "", "{}"))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("collaborate through the gateway test", func(t *testing.T) {
		gw := newGateway()
		h := newHandler(t, gw)
		gw.connect("a")
		gw.connect("b")

		for _, id := range []string{"a", "b"} {
			resp, err := h.Handle(ctx, request(apigateway.ConnectRoute, id, ""))
			assert.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			join := `{"action":"join-document","documentId":"doc1","mode":"live"}`
			resp, err = h.Handle(ctx, request(apigateway.DefaultRoute, id, join))
			assert.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}

		op := `{"action":"operation","documentId":"doc1","operation":{"type":"insert","position":0,"content":"hi"}}`
		resp, err := h.Handle(ctx, request(apigateway.DefaultRoute, "b", op))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		assert.Equal(t, []string{
			string(types.DocumentContentEvent),
			string(types.UserJoinedEvent),
			string(types.OperationEvent),
		}, gw.typesOf("a"))
		assert.Equal(t, []string{
			string(types.DocumentContentEvent),
			string(types.OperationConfirmedEvent),
		}, gw.typesOf("b"))

		resp, err = h.Handle(ctx, request(apigateway.DisconnectRoute, "b", ""))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(types.UserLeftEvent), gw.typesOf("a")[3])
	})

	t.Run("rejected message status test", func(t *testing.T) {
		gw := newGateway()
		h := newHandler(t, gw)
		gw.connect("a")

		_, err := h.Handle(ctx, request(apigateway.ConnectRoute, "a", ""))
		assert.NoError(t, err)

		resp, err := h.Handle(ctx, request(apigateway.DefaultRoute, "a", `{"action":"dance"}`))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, err = h.Handle(ctx, request(apigateway.DefaultRoute, "a", `not json`))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, []string{string(types.ErrorEvent), string(types.ErrorEvent)}, gw.typesOf("a"))
	})

	t.Run("user id from authorizer test", func(t *testing.T) {
		gw := newGateway()
		h := newHandler(t, gw)
		gw.connect("a")
		gw.connect("b")

		req := request(apigateway.ConnectRoute, "a", "")
		req.RequestContext.Authorizer = map[string]any{"userId": "alice"}
		_, err := h.Handle(ctx, req)
		assert.NoError(t, err)
		_, err = h.Handle(ctx, request(apigateway.ConnectRoute, "b", ""))
		assert.NoError(t, err)

		join := `{"action":"join-document","documentId":"doc1","mode":"live"}`
		_, err = h.Handle(ctx, request(apigateway.DefaultRoute, "b", join))
		assert.NoError(t, err)
		_, err = h.Handle(ctx, request(apigateway.DefaultRoute, "a", join))
		assert.NoError(t, err)

		op := `{"action":"operation","documentId":"doc1","operation":{"type":"insert","position":0,"content":"x"}}`
		_, err = h.Handle(ctx, request(apigateway.DefaultRoute, "a", op))
		assert.NoError(t, err)

		gw.mu.Lock()
		received := gw.posted["b"][len(gw.posted["b"])-1]
		gw.mu.Unlock()
		assert.Equal(t, string(types.OperationEvent), received["type"])
		assert.Equal(t, "alice", received["operation"].(map[string]any)["userId"])
	})
}
