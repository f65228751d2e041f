package redisbridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"enel/internal/eventbus"
	logx "enel/pkg/logx"
)

func startBridge(t *testing.T) (*miniredis.Miniredis, *redis.Client, eventbus.Bus, *Bridge) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	bus := eventbus.New()
	b := New(rdb, bus, Config{Prefix: "test", Agent: "Enel"}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for s.PubSubNumSub(b.RequestsChannel())[b.RequestsChannel()] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("bridge never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s, rdb, bus, b
}

func TestForwardsResultsAsEnvelopes(t *testing.T) {
	t.Parallel()
	_, rdb, bus, b := startBridge(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, b.EventsChannel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish(eventbus.Event{Type: eventbus.TypeResult, Data: eventbus.Result{Agent: "Enel", Task: "getPeriodicWeather", Data: "21 degrees"}})

	select {
	case msg := <-sub.Channel():
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Type != eventbus.TypeResult || env.Agent != "Enel" {
			t.Fatalf("envelope = %+v", env)
		}
		var res eventbus.Result
		if err := json.Unmarshal(env.Data, &res); err != nil || res.Task != "getPeriodicWeather" {
			t.Fatalf("result = %+v, %v", res, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope published")
	}
}

func TestInboundRequestIsPublishedLocally(t *testing.T) {
	t.Parallel()
	_, rdb, bus, b := startBridge(t)
	reqs, unsub := bus.Subscribe(4, eventbus.TypeRequest)
	defer unsub()

	payload := `{"command":"/weather","args":["now"],"reply_to":"test:replies"}`
	if err := rdb.Publish(context.Background(), b.RequestsChannel(), payload).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-reqs:
		req, ok := ev.Data.(eventbus.Request)
		if !ok {
			t.Fatalf("data = %T", ev.Data)
		}
		if req.Command != "weather" || req.ID == "" || len(req.Args) != 1 {
			t.Fatalf("request = %+v", req)
		}
		if req.Origin.Channel != ChannelRedis || req.Origin.ReplyTo != "test:replies" {
			t.Fatalf("origin = %+v", req.Origin)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request not republished")
	}
}

func TestResponsesRouteToReplyChannel(t *testing.T) {
	t.Parallel()
	_, rdb, bus, _ := startBridge(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "test:replies")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Telegram responses are not forwarded.
	bus.Publish(eventbus.Event{Type: eventbus.TypeResponse, Data: eventbus.Response{
		RequestID: "tg", Origin: eventbus.Origin{Channel: "telegram", ReplyTo: "test:replies"},
	}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeResponse, Data: eventbus.Response{
		RequestID: "r1", Text: "ok", Origin: eventbus.Origin{Channel: ChannelRedis, ReplyTo: "test:replies"},
	}})

	select {
	case msg := <-sub.Channel():
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		var resp eventbus.Response
		if err := json.Unmarshal(env.Data, &resp); err != nil || resp.RequestID != "r1" {
			t.Fatalf("response = %+v, %v", resp, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("response not routed")
	}
}
