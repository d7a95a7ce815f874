// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wakeup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a multi-process Queue backed by Redis pub/sub. NotifyReady
// publishes the queue name to a single shared channel; every worker process
// subscribes and treats any message as a hint worth re-polling, so at most
// one process acting on a given hint is not required — a spurious extra
// claimTasks call from the other subscribers is harmless.
type Redis struct {
	client  *redis.Client
	channel string
	sub     *redis.PubSub
	msgs    <-chan *redis.Message
}

// NewRedis dials addr and subscribes to channel. Call Close when done.
func NewRedis(ctx context.Context, addr, password string, db int, channel string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return &Redis{client: client, channel: channel, sub: sub, msgs: sub.Channel()}, nil
}

// NotifyReady publishes queue as a wakeup hint to every subscriber.
func (r *Redis) NotifyReady(ctx context.Context, queue string) error {
	if queue == "" {
		return nil
	}
	return r.client.Publish(ctx, r.channel, queue).Err()
}

// Receive implements Queue.
func (r *Redis) Receive(ctx context.Context, timeout time.Duration) (string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-r.msgs:
		if !ok {
			return "", false
		}
		return msg.Payload, true
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// Close releases the subscription and the underlying client.
func (r *Redis) Close() error {
	_ = r.sub.Close()
	return r.client.Close()
}

var _ Queue = (*Redis)(nil)
