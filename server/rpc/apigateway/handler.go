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

package apigateway

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/aws/aws-lambda-go/events"

	"github.com/kriya-team/kriya/api/types"
	pkgerrors "github.com/kriya-team/kriya/pkg/errors"
	"github.com/kriya-team/kriya/server/coordinator"
	"github.com/kriya-team/kriya/server/logging"
)

// Below are the route keys of a WebSocket API.
const (
	ConnectRoute    = "$connect"
	DisconnectRoute = "$disconnect"
	DefaultRoute    = "$default"
)

// UserIDParam is the query parameter carrying the user ID on $connect.
const UserIDParam = "userId"

// Handler handles the requests the gateway routes to the function. Each
// request carries one lifecycle event or one inbound message.
type Handler struct {
	coordinator *coordinator.Coordinator
	requestID   atomic.Int32
}

// NewHandler creates a new instance of Handler.
func NewHandler(coord *coordinator.Coordinator) *Handler {
	return &Handler{coordinator: coord}
}

// Handle serves a request of the gateway. Failures are answered with a
// status code and never returned as an error, so the gateway does not
// retry the request.
func (h *Handler) Handle(
	ctx context.Context,
	req events.APIGatewayWebsocketProxyRequest,
) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID
	if connectionID == "" {
		return respond(http.StatusBadRequest), nil
	}

	logger := logging.New(
		fmt.Sprintf("r%d", h.requestID.Add(1)),
		logging.NewField("connection_id", connectionID),
		logging.NewField("route", req.RequestContext.RouteKey),
	)
	ctx = logging.With(ctx, logger)
	ctx = WithEndpoint(ctx, endpointOf(req.RequestContext))

	var err error
	switch req.RequestContext.RouteKey {
	case ConnectRoute:
		err = h.coordinator.Connect(ctx, connectionID, userIDOf(req))
	case DisconnectRoute:
		err = h.coordinator.Disconnect(ctx, connectionID)
	default:
		err = h.coordinator.HandleMessage(ctx, connectionID, []byte(req.Body))
	}
	if err != nil {
		logger.Warnf("handle: %v", err)
		return respond(pkgerrors.StatusOf(err).HTTPStatus()), nil
	}

	return respond(http.StatusOK), nil
}

func respond(statusCode int) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: statusCode}
}

// endpointOf returns the endpoint of the management API of the stage.
func endpointOf(rc events.APIGatewayWebsocketProxyRequestContext) string {
	return "https://" + rc.DomainName + "/" + rc.Stage
}

// userIDOf returns the user ID set by the authorizer, falling back to the
// query string of $connect.
func userIDOf(req events.APIGatewayWebsocketProxyRequest) string {
	if authorizer, ok := req.RequestContext.Authorizer.(map[string]any); ok {
		if userID, ok := authorizer[UserIDParam].(string); ok && userID != "" {
			return types.SanitizeString(userID)
		}
	}

	return types.SanitizeString(req.QueryStringParameters[UserIDParam])
}
