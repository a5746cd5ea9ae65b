package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"moldscope/internal/logger"
)

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

type fakeComponent struct {
	name  string
	rec   *recorder
	err   error
	block bool
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Shutdown(ctx context.Context) error {
	f.rec.add(f.name)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func TestShutdownReverseOrder(t *testing.T) {
	rec := &recorder{}
	m := NewManager(logger.NewNop(), time.Second)
	for _, name := range []string{"first", "second", "third"} {
		m.Register(&fakeComponent{name: name, rec: rec})
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	want := []string{"third", "second", "first"}
	for i := range want {
		if rec.order[i] != want[i] {
			t.Fatalf("order = %v, want %v", rec.order, want)
		}
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	m := NewManager(logger.NewNop(), time.Second)
	m.Register(&fakeComponent{name: "db", rec: rec, err: boom})

	err1 := m.Shutdown()
	err2 := m.Shutdown()
	if !errors.Is(err1, boom) || !errors.Is(err2, boom) {
		t.Errorf("errors = %v / %v, want boom", err1, err2)
	}
	if len(rec.order) != 1 {
		t.Errorf("component stopped %d times", len(rec.order))
	}
}

func TestShutdownTimeout(t *testing.T) {
	rec := &recorder{}
	m := NewManager(logger.NewNop(), 20*time.Millisecond)
	m.Register(&fakeComponent{name: "fast", rec: rec})
	m.Register(&fakeComponent{name: "stuck", rec: rec, block: true})

	err := m.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if len(rec.order) != 2 {
		t.Errorf("stopped %v, want both components", rec.order)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	m := NewManager(logger.NewNop(), time.Second)
	m.Register(&fakeComponent{name: "server", rec: rec})

	ctx, cancel := context.WithCancel(context.Background())
	m.Watch(ctx)
	cancel()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not run after cancel")
	}
	if len(rec.order) != 1 {
		t.Errorf("stopped %v", rec.order)
	}
}
