package event

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
)

func boolPtr(b bool) *bool { return &b }

// ── Bus ──────────────────────────────────────────────────────────────────────

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var got []string
	b.Subscribe(func(_ context.Context, ev Event) { got = append(got, "a:"+string(ev.Kind)) })
	b.Subscribe(func(_ context.Context, ev Event) { got = append(got, "b:"+string(ev.Kind)) })

	b.Publish(context.Background(), Event{Kind: StateChanged, Owner: "o"})

	want := []string{"a:state-changed", "b:state-changed"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBus_StampsTime(t *testing.T) {
	t.Parallel()

	b := NewBus()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	var at time.Time
	b.Subscribe(func(_ context.Context, ev Event) { at = ev.At })
	b.Publish(context.Background(), Event{Kind: StateChanged})
	if !at.Equal(fixed) {
		t.Fatalf("At = %v, want %v", at, fixed)
	}

	preset := fixed.Add(-time.Hour)
	b.Publish(context.Background(), Event{Kind: StateChanged, At: preset})
	if !at.Equal(preset) {
		t.Fatalf("preset At overwritten: %v", at)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBus()
	n := 0
	unsub := b.Subscribe(func(context.Context, Event) { n++ })
	b.Publish(context.Background(), Event{Kind: StateChanged})
	unsub()
	unsub()
	b.Publish(context.Background(), Event{Kind: StateChanged})
	if n != 1 {
		t.Fatalf("handler called %d times, want 1", n)
	}
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	b := NewBus()
	reached := false
	b.Subscribe(func(context.Context, Event) { panic("boom") })
	b.Subscribe(func(context.Context, Event) { reached = true })
	b.Publish(context.Background(), Event{Kind: StateChanged})
	if !reached {
		t.Fatal("second handler not reached")
	}
}

func TestRecorder_Count(t *testing.T) {
	t.Parallel()

	var r Recorder
	r.Publish(context.Background(), Event{Kind: StateChanged})
	r.Publish(context.Background(), Event{Kind: DoorLocked})
	r.Publish(context.Background(), Event{Kind: StateChanged})
	if r.Count(StateChanged) != 2 || r.Count(DoorLocked) != 1 || len(r.Events()) != 3 {
		t.Fatalf("events = %+v", r.Events())
	}
}

// ── Mirror ───────────────────────────────────────────────────────────────────

func TestMirror_TracksSecurityState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMirror()
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	m.Handle(ctx, Event{Kind: SecurityModeChanged, Owner: "alice", Mode: "away", At: at})
	m.Handle(ctx, Event{Kind: DoorLocked, Owner: "alice", Locked: boolPtr(true), At: at.Add(time.Minute)})
	m.Handle(ctx, Event{Kind: StateChanged, Owner: "alice", At: at.Add(time.Hour)})

	st, err := m.SecurityStatus(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode != "away" || st.Locked == nil || !*st.Locked {
		t.Fatalf("state = %+v", st)
	}
	if !st.UpdatedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, state-changed must not bump it", st.UpdatedAt)
	}

	other, _ := m.SecurityStatus(ctx, "bob")
	if other.Mode != "" || other.Locked != nil {
		t.Errorf("bob state = %+v, want zero", other)
	}
}

// ── Hub ──────────────────────────────────────────────────────────────────────

func TestHub_StreamsOwnersEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(func(r *http.Request) string { return r.URL.Query().Get("owner") })
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?owner=alice"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Handle(ctx, Event{Kind: StateChanged, Owner: "bob"})
	hub.Handle(ctx, Event{Kind: DoorUnlocked, Owner: "alice", Locked: boolPtr(false)})

	var got Event
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Kind != DoorUnlocked || got.Owner != "alice" || got.Locked == nil || *got.Locked {
		t.Fatalf("got %+v, want alice door-unlocked", got)
	}
}

// ── MQTT ─────────────────────────────────────────────────────────────────────

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

var _ mqtt.Token = fakeToken{}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu           sync.Mutex
	msgs         []published
	err          error
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	return fakeToken{err: f.err}
}

func (f *fakeMQTT) IsConnected() bool { return true }

func (f *fakeMQTT) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func TestMQTTSink_PublishesTopics(t *testing.T) {
	t.Parallel()

	fc := &fakeMQTT{}
	s := newMQTTSink(fc, MQTTConfig{TopicPrefix: "home/", QoS: 1})
	ctx := context.Background()

	s.Handle(ctx, Event{Kind: StateChanged, Owner: "alice"})
	s.Handle(ctx, Event{Kind: SecurityModeChanged, Owner: "alice", Mode: "away"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s.Handle(ctx, Event{Kind: StateChanged, Owner: "late"})

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if !fc.disconnected {
		t.Error("client not disconnected")
	}
	if len(fc.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(fc.msgs))
	}
	if fc.msgs[0].topic != "home/alice/state-changed" || fc.msgs[0].retained {
		t.Errorf("msg 0 = %+v", fc.msgs[0])
	}
	if fc.msgs[1].topic != "home/alice/security-mode-changed" || !fc.msgs[1].retained || fc.msgs[1].qos != 1 {
		t.Errorf("msg 1 = %+v", fc.msgs[1])
	}
	var ev Event
	if err := json.Unmarshal(fc.msgs[1].payload, &ev); err != nil || ev.Mode != "away" {
		t.Errorf("payload = %s (%v)", fc.msgs[1].payload, err)
	}
}

func TestMQTTSink_BreakerOpensOnFailures(t *testing.T) {
	t.Parallel()

	fc := &fakeMQTT{err: errors.New("broker down")}
	s := newMQTTSink(fc, MQTTConfig{})
	for range 5 {
		s.Handle(context.Background(), Event{Kind: StateChanged, Owner: "o"})
	}
	_ = s.Close()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	// Three failures open the breaker; the rest are rejected without a call.
	if len(fc.msgs) != 3 {
		t.Fatalf("publish attempts = %d, want 3", len(fc.msgs))
	}
}

func TestMQTTSink_DefaultPrefix(t *testing.T) {
	t.Parallel()

	s := newMQTTSink(&fakeMQTT{}, MQTTConfig{})
	defer s.Close()
	if got := s.Topic(Event{Kind: DoorLocked}); got != "ander/_/door-locked" {
		t.Fatalf("Topic = %q", got)
	}
}

// ── Redis ────────────────────────────────────────────────────────────────────

func newRedisTestSink(t *testing.T) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisSink(rdb, RedisConfig{Stream: "events", KeyPrefix: "t:"}), mr
}

func TestRedisSink_WritesStreamAndState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, mr := newRedisTestSink(t)
	at := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	s.Handle(ctx, Event{Kind: StateChanged, Owner: "alice", At: at})
	s.Handle(ctx, Event{Kind: SecurityModeChanged, Owner: "alice", Mode: "away", At: at})
	s.Handle(ctx, Event{Kind: DoorLocked, Owner: "alice", Locked: boolPtr(true), At: at.Add(time.Second)})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := mr.Stream("events")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("stream entries = %d, want 3", len(entries))
	}
	if mode := mr.HGet("t:security:alice", "mode"); mode != "away" {
		t.Errorf("mode = %q", mode)
	}
	if locked := mr.HGet("t:security:alice", "locked"); locked != "true" {
		t.Errorf("locked = %q", locked)
	}
}

func TestRedisSink_SecurityStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisSink(rdb, RedisConfig{})
	t.Cleanup(func() { _ = s.Close() })

	mr.HSet("ander:security:alice", "mode", "home", "locked", "false", "updated_at", "2026-04-01T09:30:00Z")

	st, err := s.SecurityStatus(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode != "home" || st.Locked == nil || *st.Locked {
		t.Fatalf("state = %+v", st)
	}
	if st.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not parsed")
	}

	empty, err := s.SecurityStatus(ctx, "nobody")
	if err != nil || empty.Mode != "" || empty.Locked != nil {
		t.Fatalf("empty state = %+v, %v", empty, err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
