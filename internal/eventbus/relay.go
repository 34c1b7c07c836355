package eventbus

import (
	"context"
	"encoding/json"
	"errors"

	"softphone-platform/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RelayChannel carries room frames between API instances.
const RelayChannel = "softphone:eventbus"

// RedisPubSub is the subset of the redis client used by the relay.
type RedisPubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type relayEnvelope struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Frame  json.RawMessage `json:"frame"`
}

// Relay shares hub publishes across instances over Redis pub/sub.
// Each instance tags its frames with an origin id and ignores its own.
type Relay struct {
	hub    *Hub
	rdb    RedisPubSub
	origin string
}

// NewRelay attaches a relay to hub. Publishes on hub are forwarded from then on.
func NewRelay(hub *Hub, rdb RedisPubSub) *Relay {
	r := &Relay{hub: hub, rdb: rdb, origin: uuid.NewString()}
	hub.forward = r.forward
	return r
}

func (r *Relay) forward(ctx context.Context, room string, frame []byte) {
	b, err := json.Marshal(relayEnvelope{Origin: r.origin, Room: room, Frame: frame})
	if err != nil {
		return
	}
	if err := r.rdb.Publish(ctx, RelayChannel, b).Err(); err != nil {
		logger.From(ctx).Warn("eventbus relay publish failed", "room", room, "err", err)
	}
}

// Run delivers frames from other instances to local clients until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, RelayChannel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("eventbus: relay subscription closed")
			}
			r.receive(ctx, msg.Payload)
		}
	}
}

func (r *Relay) receive(ctx context.Context, payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logger.From(ctx).Warn("eventbus relay frame dropped", "err", err)
		return
	}
	if env.Origin == r.origin || env.Room == "" {
		return
	}
	r.hub.deliver(env.Room, env.Frame)
}
