package audit

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDisabledManagerIsNoop(t *testing.T) {
	m, err := NewManager(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	m.Submit(context.Background(), Event{Action: "token.generate"})

	if m.Enabled() {
		t.Fatalf("disabled manager reports enabled")
	}
	if m.Saturated() {
		t.Fatalf("disabled manager reports saturated")
	}
	if got := m.Recent(10); got != nil {
		t.Fatalf("disabled manager returned events: %v", got)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestNilManagerIsSafe(t *testing.T) {
	var m *Manager
	m.Submit(context.Background(), Event{Action: "token.generate"})
	if m.Enabled() || m.Saturated() {
		t.Fatalf("nil manager must behave as disabled")
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil manager Shutdown returned error: %v", err)
	}
}

func TestSubmitDispatchesToSink(t *testing.T) {
	got := make(chan Event, 1)
	m, err := NewManager(Config{
		Enabled:    true,
		BufferSize: 8,
		Sinks: []Sink{SinkFunc{SinkName: "capture", Fn: func(_ context.Context, e Event) error {
			got <- e
			return nil
		}}},
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	defer m.Shutdown(context.Background())

	m.Submit(context.Background(), Event{
		Actor:   "user",
		Action:  "token.generate",
		Outcome: "success",
	})

	select {
	case e := <-got:
		if e.Actor != "user" || e.Action != "token.generate" {
			t.Fatalf("sink saw %+v", e)
		}
		if e.OccurredAt.IsZero() {
			t.Fatalf("OccurredAt should be backfilled on submit")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sink never received the event")
	}
}

func TestRecentReturnsLatestFirst(t *testing.T) {
	m, err := NewManager(Config{
		Enabled: true,
		Sinks:   []Sink{SinkFunc{SinkName: "discard"}},
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	defer m.Shutdown(context.Background())

	for _, action := range []string{"first", "second", "third"} {
		m.Submit(context.Background(), Event{Action: action})
	}

	recent := m.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d events", len(recent))
	}
	if recent[0].Action != "third" || recent[1].Action != "second" {
		t.Fatalf("expected latest-first order, got [%s %s]", recent[0].Action, recent[1].Action)
	}
}

func TestRecentRingDropsOldest(t *testing.T) {
	m, err := NewManager(Config{
		Enabled:      true,
		RecentBuffer: 3,
		Sinks:        []Sink{SinkFunc{SinkName: "discard"}},
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	defer m.Shutdown(context.Background())

	for _, action := range []string{"a", "b", "c", "d"} {
		m.Submit(context.Background(), Event{Action: action})
	}

	recent := m.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("ring should cap at 3, got %d", len(recent))
	}
	// 环形缓冲挤掉最老的一条
	if recent[0].Action != "d" || recent[2].Action != "b" {
		t.Fatalf("expected [d c b], got [%s %s %s]",
			recent[0].Action, recent[1].Action, recent[2].Action)
	}
}

func TestSaturatedReflectsBufferPressure(t *testing.T) {
	gate := make(chan struct{})
	m, err := NewManager(Config{
		Enabled:    true,
		BufferSize: 10,
		Sinks: []Sink{SinkFunc{SinkName: "blocking", Fn: func(_ context.Context, _ Event) error {
			<-gate
			return nil
		}}},
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	if m.Saturated() {
		t.Fatalf("fresh manager must not be saturated")
	}

	// 后台worker最多拿走一条并卡在sink里, 剩下的填满缓冲(>=90%)
	for i := 0; i < 10; i++ {
		m.Submit(context.Background(), Event{Action: "flood"})
	}
	if !m.Saturated() {
		t.Fatalf("buffer at capacity should report saturated")
	}

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestSubmitDropsWhenBufferFull(t *testing.T) {
	var dispatched int32
	var enterOnce sync.Once
	entered := make(chan struct{})
	gate := make(chan struct{})

	m, err := NewManager(Config{
		Enabled:    true,
		BufferSize: 1,
		Sinks: []Sink{SinkFunc{SinkName: "gated", Fn: func(_ context.Context, _ Event) error {
			atomic.AddInt32(&dispatched, 1)
			enterOnce.Do(func() {
				close(entered)
				<-gate
			})
			return nil
		}}},
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	m.Submit(context.Background(), Event{Action: "one"})
	select {
	case <-entered: // worker已取走第一条并卡住, 缓冲此刻为空
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never picked up the first event")
	}

	m.Submit(context.Background(), Event{Action: "two"})   // 占满缓冲
	m.Submit(context.Background(), Event{Action: "three"}) // 无处可放, 丢弃

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	if got := atomic.LoadInt32(&dispatched); got != 2 {
		t.Fatalf("dispatched=%d, want 2 (third event dropped)", got)
	}
	// 丢弃只影响下游投递, 环形缓冲仍然记录全部提交
	if recent := m.Recent(10); len(recent) != 3 {
		t.Fatalf("recent ring has %d events, want 3", len(recent))
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	m, err := NewManager(Config{
		Enabled: true,
		Sinks:   []Sink{SinkFunc{SinkName: "discard"}},
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown returned error: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown returned error: %v", err)
	}
}

func TestSubmitAfterShutdownIsDiscarded(t *testing.T) {
	m, err := NewManager(Config{
		Enabled: true,
		Sinks:   []Sink{SinkFunc{SinkName: "discard"}},
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	// 队列已关闭, 迟到的提交必须安静丢弃而不是panic
	m.Submit(context.Background(), Event{Action: "token.generate"})
}

// Submit和Shutdown可能来自不同goroutine(HTTP处理器 vs 关停回调),
// 并发交错时不允许出现向已关闭通道写入的panic。
func TestSubmitConcurrentWithShutdown(t *testing.T) {
	m, err := NewManager(Config{
		Enabled:    true,
		BufferSize: 4,
		Sinks:      []Sink{SinkFunc{SinkName: "discard"}},
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				m.Submit(context.Background(), Event{Action: "token.generate"})
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		time.Sleep(time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown returned error: %v", err)
		}
	}()

	close(start)
	wg.Wait()
}

func TestBuildEventFromRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/ott/generate", nil)
	req.Header.Set("X-Request-Id", "req-42")
	req.Header.Set("X-Forwarded-User", "ops")
	req.Header.Set("User-Agent", "smoke/1.0")
	req.RemoteAddr = "10.1.2.3:5555"

	event := BuildEventFromRequest(req)
	if event.RequestID != "req-42" || event.Actor != "ops" || event.UserAgent != "smoke/1.0" {
		t.Fatalf("unexpected event fields: %+v", event)
	}
	if event.IP != "10.1.2.3" {
		t.Fatalf("ip=%q, want host without port", event.IP)
	}
	if event.Metadata["method"] != "POST" || event.Metadata["path"] != "/ott/generate" {
		t.Fatalf("metadata=%v", event.Metadata)
	}
}

func TestEventCloneIsolatesMetadata(t *testing.T) {
	original := Event{Metadata: map[string]any{"key": "before"}}
	cloned := original.Clone()

	original.Metadata["key"] = "after"
	if cloned.Metadata["key"] != "before" {
		t.Fatalf("clone shares metadata map with the original")
	}
}
