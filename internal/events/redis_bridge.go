package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	bridgeBuffer         = 256
	bridgePublishTimeout = 2 * time.Second
)

// RedisBridge forwards changes to a Redis pub/sub channel so that tools
// outside this process (a customer display, a back-office tail) can follow
// the register without polling. Publish only enqueues; a background worker
// talks to Redis, so a slow server never holds up a store write.
type RedisBridge struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger

	queue   chan Change
	stop    chan struct{}
	done    chan struct{}
	closeOnce sync.Once
}

func NewRedisBridge(client *redis.Client, registerID string, log zerolog.Logger) *RedisBridge {
	r := &RedisBridge{
		client:  client,
		channel: ChannelName(registerID),
		log:     log,
		queue:   make(chan Change, bridgeBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func ChannelName(registerID string) string {
	return fmt.Sprintf("pos:%s:changes", registerID)
}

func (r *RedisBridge) Publish(_ context.Context, change Change) {
	select {
	case <-r.stop:
		return
	default:
	}
	select {
	case r.queue <- change:
	default:
		r.log.Warn().Str("table", change.Table).Str("id", change.ID).Msg("redis bridge backlog full, change dropped")
	}
}

// Close stops the worker. Changes still buffered are dropped.
func (r *RedisBridge) Close() error {
	r.closeOnce.Do(func() { close(r.stop) })
	<-r.done
	return nil
}

func (r *RedisBridge) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case change := <-r.queue:
			select {
			case <-r.stop:
				return
			default:
			}
			r.send(change)
		}
	}
}

func (r *RedisBridge) send(change Change) {
	payload, err := json.Marshal(change)
	if err != nil {
		r.log.Warn().Err(err).Msg("encode change")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), bridgePublishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.Warn().Err(err).Str("table", change.Table).Str("id", change.ID).Msg("redis publish failed")
	}
}
