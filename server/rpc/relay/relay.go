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

// Package relay delivers events to connections held by other server nodes
// through Redis Pub/Sub. Each node subscribes to the channel of every
// connection it holds.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/kriya-team/kriya/server/backend/broadcast"
	"github.com/kriya-team/kriya/server/logging"
	"github.com/kriya-team/kriya/server/rpc"
)

const (
	// DefaultChannelPrefix is the default prefix of connection channels.
	DefaultChannelPrefix = "kriya:conn:"

	dialTimeout = 5 * time.Second
)

// Hub is the set of connections held by this node.
type Hub interface {
	Listen(l rpc.Listener)
	Has(connectionID string) bool
	Send(ctx context.Context, connectionID string, payload []byte) error
	TrySend(connectionID string, payload []byte) error
}

// Relay is a broadcast.Sender that reaches connections on every node. It
// listens to the local hub to keep its subscriptions in step with the
// connections of this node.
type Relay struct {
	nodeID string
	prefix string
	hub    Hub
	client *redis.Client
	pubsub *redis.PubSub
	logger logging.Logger

	done chan struct{}
}

// Dial connects to Redis and starts forwarding messages published for the
// connections of the given hub.
func Dial(conf *Config, hub Hub) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", conf.Addr, err)
	}

	prefix := conf.ChannelPrefix
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}

	nodeID := xid.New().String()
	r := &Relay{
		nodeID: nodeID,
		prefix: prefix,
		hub:    hub,
		client: client,
		pubsub: client.Subscribe(context.Background()),
		logger: logging.New("relay", logging.NewField("node", nodeID)),
		done:   make(chan struct{}),
	}
	hub.Listen(r)
	go r.forward(r.pubsub.Channel())

	r.logger.Infof("relay connected to %s", conf.Addr)
	return r, nil
}

// NodeID returns the ID of this node.
func (r *Relay) NodeID() string {
	return r.nodeID
}

// Attached subscribes to the channel of the connection.
func (r *Relay) Attached(ctx context.Context, connectionID string) error {
	if err := r.pubsub.Subscribe(ctx, r.channelOf(connectionID)); err != nil {
		return fmt.Errorf("subscribe %s: %w", connectionID, err)
	}
	return nil
}

// Detached unsubscribes from the channel of the connection.
func (r *Relay) Detached(ctx context.Context, connectionID string) error {
	if err := r.pubsub.Unsubscribe(ctx, r.channelOf(connectionID)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", connectionID, err)
	}
	return nil
}

// Send delivers the payload to the connection. Connections of this node are
// served by the hub directly. Otherwise the payload is published and the
// connection is gone if no node is subscribed to its channel.
func (r *Relay) Send(ctx context.Context, connectionID string, payload []byte) error {
	if r.hub.Has(connectionID) {
		return r.hub.Send(ctx, connectionID, payload)
	}

	receivers, err := r.client.Publish(ctx, r.channelOf(connectionID), payload).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", connectionID, err)
	}
	if receivers == 0 {
		return fmt.Errorf("%s: %w", connectionID, broadcast.ErrConnectionGone)
	}

	return nil
}

// Close stops forwarding and closes the connection to Redis.
func (r *Relay) Close() error {
	if err := r.pubsub.Close(); err != nil {
		return fmt.Errorf("close pubsub: %w", err)
	}
	<-r.done

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// forward hands the messages published for local connections to the hub
// until the channel is closed. It never waits on a connection: one whose
// buffer is full is closed instead of holding back the others.
func (r *Relay) forward(msgs <-chan *redis.Message) {
	defer close(r.done)

	for msg := range msgs {
		connectionID := strings.TrimPrefix(msg.Channel, r.prefix)
		if err := r.hub.TrySend(connectionID, []byte(msg.Payload)); err != nil {
			r.logger.Warnf("forward to %s: %v", connectionID, err)
		}
	}
}

func (r *Relay) channelOf(connectionID string) string {
	return r.prefix + connectionID
}
