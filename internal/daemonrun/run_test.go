package daemonrun

import (
	"context"
	"os"
	"testing"
	"time"

	"actlog/internal/activity"
	"actlog/internal/daemon"
	"actlog/internal/store"
	"actlog/internal/testsupport"
)

func TestRunServesAndDrainsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Queue.FlushIntervalMillis = 60_000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan *daemon.Daemon, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, Options{Ready: func(d *daemon.Daemon) { ready <- d }})
	}()

	var d *daemon.Daemon
	select {
	case d = <-ready:
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	if _, err := os.Stat(cfg.PIDPath()); err != nil {
		t.Fatalf("expected pid file: %v", err)
	}
	for i := 0; i < 3; i++ {
		d.Recorder().LogActivity(ctx, activity.Options{Action: "login", ResourceType: "auth"})
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := os.Stat(cfg.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, got %v", err)
	}

	backend, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer backend.Close()
	records, err := backend.List(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 drained records, got %d", len(records))
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}
