package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

type fakeWorker struct {
	r        *recorder
	name     string
	startErr error
}

func (w fakeWorker) Start() error {
	w.r.add("start " + w.name)
	return w.startErr
}

func (w fakeWorker) Stop(context.Context) error {
	w.r.add("stop " + w.name)
	return nil
}

type fakeRunner struct{ r *recorder }

func (f fakeRunner) Shutdown(context.Context) error {
	f.r.add("drain")
	return nil
}

type fakeCloser struct {
	r    *recorder
	name string
	err  error
}

func (c fakeCloser) Close() error {
	c.r.add("close " + c.name)
	return c.err
}

func TestRunContextShutdownOrder(t *testing.T) {
	r := &recorder{}
	app := New(nil, nil, fakeRunner{r},
		WithWorker(fakeWorker{r: r, name: "queue"}),
		WithCloser("store", fakeCloser{r: r, name: "store"}),
		WithCloser("kafka", fakeCloser{r: r, name: "kafka", err: errors.New("flush failed")}),
		WithShutdownTimeout(time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected close error to be reported")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunContext did not return")
	}

	want := []string{"start queue", "stop queue", "drain", "close kafka", "close store"}
	if len(r.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", r.calls, want)
	}
	for i := range want {
		if r.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", r.calls, want)
		}
	}
}

func TestRunContextWorkerStartFailure(t *testing.T) {
	r := &recorder{}
	app := New(nil, nil, fakeRunner{r}, WithWorker(fakeWorker{r: r, name: "queue", startErr: errors.New("redis down")}))

	if err := app.RunContext(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if r.calls[0] != "start queue" || r.calls[len(r.calls)-1] != "drain" {
		t.Fatalf("unexpected calls %v", r.calls)
	}
}
