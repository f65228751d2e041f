// Package redisbridge connects the in-process bus to a Redis pub/sub host
// channel. Selected local events are published as JSON envelopes on
// "<prefix>:events"; requests arriving on "<prefix>:requests" are re-published
// locally as agent.request.
package redisbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"enel/internal/eventbus"
	logx "enel/pkg/logx"
)

const ChannelRedis = "redis"

type Config struct {
	Prefix string
	// Forward lists local event types (or "prefix." wildcards) to publish.
	Forward []string
	Agent   string
}

// DefaultForward is used when Config.Forward is empty.
var DefaultForward = []string{eventbus.TypeResult, eventbus.TypeResponse}

// Envelope is the wire format on the events channel.
type Envelope struct {
	Type  string          `json:"type"`
	Time  time.Time       `json:"time"`
	Agent string          `json:"agent,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// InboundRequest is the wire format accepted on the requests channel.
type InboundRequest struct {
	ID      string   `json:"id,omitempty"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type Bridge struct {
	rdb redis.UniversalClient
	bus eventbus.Bus
	cfg Config
	log logx.Logger
}

func New(rdb redis.UniversalClient, bus eventbus.Bus, cfg Config, log logx.Logger) *Bridge {
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "enel"
	}
	if len(cfg.Forward) == 0 {
		cfg.Forward = append([]string(nil), DefaultForward...)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{rdb: rdb, bus: bus, cfg: cfg, log: log}
}

func (b *Bridge) EventsChannel() string   { return b.cfg.Prefix + ":events" }
func (b *Bridge) RequestsChannel() string { return b.cfg.Prefix + ":requests" }

// Ping checks connectivity.
func (b *Bridge) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Run forwards events in both directions until ctx is done or the Redis
// subscription breaks. It is meant to run under a restarting supervisor.
func (b *Bridge) Run(ctx context.Context) error {
	local, unsub := b.bus.Subscribe(256, b.cfg.Forward...)
	defer unsub()

	sub := b.rdb.Subscribe(ctx, b.RequestsChannel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.RequestsChannel(), err)
	}
	inbound := sub.Channel()

	b.log.Info("redis bridge started", logx.String("events", b.EventsChannel()), logx.String("requests", b.RequestsChannel()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return errors.New("redis subscription closed")
			}
			b.handleInbound(msg)
		case ev, ok := <-local:
			if !ok {
				return errors.New("local subscription closed")
			}
			if err := b.forward(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.log.Warn("redis publish failed", logx.String("type", ev.Type), logx.Err(err))
			}
		}
	}
}

func (b *Bridge) forward(ctx context.Context, ev eventbus.Event) error {
	channel := b.EventsChannel()
	if resp, ok := ev.Data.(eventbus.Response); ok {
		if resp.Origin.Channel != "" && resp.Origin.Channel != ChannelRedis {
			// Responses for other transports stay local.
			return nil
		}
		if resp.Origin.ReplyTo != "" {
			channel = resp.Origin.ReplyTo
		}
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	env := Envelope{Type: ev.Type, Time: ev.Time, Agent: b.cfg.Agent, Data: data}
	if env.Time.IsZero() {
		env.Time = time.Now()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel, payload).Err()
}

func (b *Bridge) handleInbound(msg *redis.Message) {
	if msg == nil {
		return
	}
	var in InboundRequest
	if err := json.Unmarshal([]byte(msg.Payload), &in); err != nil {
		b.log.Warn("redis request rejected", logx.String("channel", msg.Channel), logx.Err(err))
		return
	}
	in.Command = strings.TrimPrefix(strings.TrimSpace(in.Command), "/")
	if in.Command == "" {
		b.log.Warn("redis request without command", logx.String("channel", msg.Channel))
		return
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	b.bus.Publish(eventbus.Event{
		Type: eventbus.TypeRequest,
		Time: time.Now(),
		Data: eventbus.Request{
			ID:      in.ID,
			Command: in.Command,
			Args:    in.Args,
			Origin:  eventbus.Origin{Channel: ChannelRedis, ReplyTo: in.ReplyTo},
		},
	})
	b.log.Debug("redis request received", logx.String("id", in.ID), logx.String("command", in.Command))
}
