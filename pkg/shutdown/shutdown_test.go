package shutdown

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeManager 记录关停阶段的执行轨迹。
type fakeManager struct {
	name      string
	mu        sync.Mutex
	trace     []string
	startErr  error
	beginErr  error
	finishErr error
}

func (f *fakeManager) record(step string) {
	f.mu.Lock()
	f.trace = append(f.trace, step)
	f.mu.Unlock()
}

func (f *fakeManager) GetName() string           { return f.name }
func (f *fakeManager) Start(_ GSInterface) error { return f.startErr }

func (f *fakeManager) ShutdownStart() error {
	f.record("shutdown-start")
	return f.beginErr
}

func (f *fakeManager) ShutdownFinish() error {
	f.record("shutdown-finish")
	return f.finishErr
}

func TestStartShutdownRunsPhasesInOrder(t *testing.T) {
	gs := New()
	mgr := &fakeManager{name: "fake"}

	for i := 0; i < 3; i++ {
		gs.AddShutdownCallback(ShutdownFunc(func(string) error {
			mgr.record("callback")
			return nil
		}))
	}

	gs.StartShutdown(mgr)

	mgr.mu.Lock()
	trace := append([]string(nil), mgr.trace...)
	mgr.mu.Unlock()

	if len(trace) != 5 {
		t.Fatalf("trace has %d steps, want 5: %v", len(trace), trace)
	}
	if trace[0] != "shutdown-start" || trace[len(trace)-1] != "shutdown-finish" {
		t.Fatalf("callbacks must run between ShutdownStart and ShutdownFinish: %v", trace)
	}
	for _, step := range trace[1:4] {
		if step != "callback" {
			t.Fatalf("unexpected step %q in %v", step, trace)
		}
	}
}

func TestCallbacksRunConcurrently(t *testing.T) {
	gs := New()
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})

	for i := 0; i < 2; i++ {
		gs.AddShutdownCallback(ShutdownFunc(func(string) error {
			arrived <- struct{}{}
			<-release // 两个回调都到齐才放行, 串行执行会卡死在这里
			return nil
		}))
	}

	done := make(chan struct{})
	go func() {
		gs.StartShutdown(&fakeManager{name: "fake"})
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-arrived:
		case <-time.After(2 * time.Second):
			close(release)
			t.Fatalf("callbacks did not run concurrently")
		}
	}
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("StartShutdown never returned")
	}
}

func TestCallbackReceivesManagerName(t *testing.T) {
	gs := New()
	var got string
	var mu sync.Mutex

	gs.AddShutdownCallback(ShutdownFunc(func(name string) error {
		mu.Lock()
		got = name
		mu.Unlock()
		return nil
	}))

	gs.StartShutdown(&fakeManager{name: "posix-signal"})

	mu.Lock()
	defer mu.Unlock()
	if got != "posix-signal" {
		t.Fatalf("callback saw manager %q, want posix-signal", got)
	}
}

func TestErrorHandlerCollectsAllErrors(t *testing.T) {
	gs := New()

	var mu sync.Mutex
	var seen []string
	gs.SetErrorHandler(ErrorFunc(func(err error) {
		mu.Lock()
		seen = append(seen, err.Error())
		mu.Unlock()
	}))

	gs.AddShutdownCallback(ShutdownFunc(func(string) error {
		return errors.New("callback failed")
	}))
	gs.AddShutdownCallback(ShutdownFunc(func(string) error {
		return nil // 成功的回调不产生错误上报
	}))

	gs.StartShutdown(&fakeManager{
		name:      "fake",
		beginErr:  errors.New("begin failed"),
		finishErr: errors.New("finish failed"),
	})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("error handler saw %d errors, want 3: %v", len(seen), seen)
	}
}

func TestReportErrorWithoutHandler(t *testing.T) {
	gs := New()
	gs.ReportError(errors.New("nobody listens")) // 没有处理器时静默丢弃
	gs.ReportError(nil)
}

func TestStartPropagatesManagerError(t *testing.T) {
	gs := New()
	gs.AddShutdownManager(&fakeManager{name: "ok"})
	gs.AddShutdownManager(&fakeManager{name: "broken", startErr: errors.New("listen failed")})

	if err := gs.Start(); err == nil || err.Error() != "listen failed" {
		t.Fatalf("Start returned %v, want listen failed", err)
	}
}
