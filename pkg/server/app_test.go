package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"KrakenPulse/internal/service/ratelimit"
	"KrakenPulse/pkg/config"
)

type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, s)
}

func (j *journal) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return strings.Join(j.steps, ",")
}

type fakeRunner struct {
	j        *journal
	name     string
	startErr error
}

func (f *fakeRunner) Start(context.Context) error {
	f.j.add(f.name + ".start")
	return f.startErr
}

func (f *fakeRunner) Stop(context.Context) error {
	f.j.add(f.name + ".stop")
	return nil
}

type fakeHTTP struct{ j *journal }

func (f *fakeHTTP) Start() error { f.j.add("http.start"); return nil }

func (f *fakeHTTP) Stop(context.Context) error { f.j.add("http.stop"); return nil }

type fakeCloser struct {
	j    *journal
	name string
	err  error
}

func (f *fakeCloser) Close() error {
	f.j.add(f.name + ".close")
	return f.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	return cfg
}

func TestAppStartShutdownOrder(t *testing.T) {
	j := &journal{}
	app := New(Components{
		Config:     testConfig(t),
		Poller:     &fakeRunner{j: j, name: "poller"},
		HTTPServer: &fakeHTTP{j: j},
		Hub:        &fakeCloser{j: j, name: "hub"},
		Limiter:    ratelimit.New(10, 10),
		Storage:    &fakeCloser{j: j, name: "storage"},
		Cache:      &fakeCloser{j: j, name: "cache"},
	})

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	want := "poller.start,http.start,poller.stop,http.stop,hub.close,storage.close,cache.close"
	if got := j.String(); got != want {
		t.Fatalf("unexpected order:\n got %s\nwant %s", got, want)
	}
}

func TestAppShutdownJoinsErrors(t *testing.T) {
	j := &journal{}
	storageErr := errors.New("storage gone")
	cacheErr := errors.New("cache gone")
	app := New(Components{
		Storage: &fakeCloser{j: j, name: "storage", err: storageErr},
		Cache:   &fakeCloser{j: j, name: "cache", err: cacheErr},
	})

	err := app.Shutdown(context.Background())
	if !errors.Is(err, storageErr) || !errors.Is(err, cacheErr) {
		t.Fatalf("expected both close errors, got %v", err)
	}
	if got := j.String(); got != "storage.close,cache.close" {
		t.Fatalf("every closer should run, got %s", got)
	}
}

func TestAppStartFailure(t *testing.T) {
	j := &journal{}
	app := New(Components{
		Poller:     &fakeRunner{j: j, name: "poller", startErr: errors.New("boom")},
		HTTPServer: &fakeHTTP{j: j},
	})
	if err := app.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if strings.Contains(j.String(), "http.start") {
		t.Fatalf("http server should not start after a poller failure: %s", j.String())
	}
}
