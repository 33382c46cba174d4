package natsutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*headerCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}

	keys := carrier.Keys()
	if len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*headerCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestPublish(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("engine.test.pub", ch)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "engine.test.pub", testMsg{Name: "hello", Value: 1}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ch:
		var p testMsg
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.Name != "hello" || p.Value != 1 {
			t.Fatalf("unexpected payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishMarshalError(t *testing.T) {
	nc := startTestNATS(t)

	if err := Publish(context.Background(), nc, "engine.test.err", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestSubscribe(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan testMsg, 1)
	sub, err := Subscribe(nc, "engine.test.sub", func(ctx context.Context, p testMsg) {
		ch <- p
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "engine.test.sub", testMsg{Name: "world", Value: 42}); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-ch:
		if p.Name != "world" || p.Value != 42 {
			t.Fatalf("unexpected: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSubscribeDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)

	called := make(chan struct{}, 1)
	sub, err := Subscribe(nc, "engine.test.malformed", func(ctx context.Context, p testMsg) {
		called <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	nc.Publish("engine.test.malformed", []byte("{bad"))
	nc.Flush()

	select {
	case <-called:
		t.Fatal("handler should not be called for malformed data")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRequest(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.Subscribe("engine.test.req", func(msg *nats.Msg) {
		var req testMsg
		json.Unmarshal(msg.Data, &req)
		data, _ := json.Marshal(testMsg{Name: req.Name + "-resp", Value: req.Value * 2})
		msg.Respond(data)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	resp, err := Request[testMsg, testMsg](context.Background(), nc, "engine.test.req", testMsg{Name: "ping", Value: 5})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Name != "ping-resp" || resp.Value != 10 {
		t.Fatalf("unexpected resp: %+v", resp)
	}
}

func TestRequestTimeout(t *testing.T) {
	nc := startTestNATS(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := Request[testMsg, testMsg](ctx, nc, "engine.test.noreply", testMsg{Name: "x", Value: 1}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestRequestUnmarshalError(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.Subscribe("engine.test.badjson", func(msg *nats.Msg) {
		msg.Respond([]byte("{invalid"))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if _, err := Request[testMsg, testMsg](context.Background(), nc, "engine.test.badjson", testMsg{Name: "x", Value: 1}); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
