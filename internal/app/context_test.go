package app

import (
	"context"
	"testing"
	"time"

	"facilitrack/internal/config"
	"facilitrack/internal/engine"
	"facilitrack/internal/subtasks"
)

func TestClientUsesConfigAndOverrides(t *testing.T) {
	cfg := config.Default()
	if _, err := Client(cfg, Overrides{}); err == nil {
		t.Fatalf("expected missing token error")
	}
	cfg.Client.Token = "from-file"
	cfg.Client.Timeout = 3 * time.Second
	c, err := Client(cfg, Overrides{BaseURL: "http://example.test/v0"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if c.BaseURL != "http://example.test/v0" || c.BearerToken != "from-file" || c.Timeout != 3*time.Second {
		t.Fatalf("unexpected client %+v", c)
	}
	c, _ = Client(cfg, Overrides{Token: "from-flag"})
	if c.BearerToken != "from-flag" || c.BaseURL != cfg.Client.BaseURL {
		t.Fatalf("override not applied: %+v", c)
	}
}

func TestLockMode(t *testing.T) {
	cfg := config.Default()
	if LockMode(cfg) != subtasks.LockRow {
		t.Fatalf("default should lock per row")
	}
	cfg.Grid.CommitLock = "collection"
	if LockMode(cfg) != subtasks.LockCollection {
		t.Fatalf("collection not applied")
	}
	if LockMode(nil) != subtasks.LockRow {
		t.Fatalf("nil config should lock per row")
	}
}

func TestOpenEngineMigrates(t *testing.T) {
	ctx := context.Background()
	e, closeFn, err := OpenEngine(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeFn()
	task, err := e.CreateTask(ctx, engine.TaskCreateOptions{Title: "Inspect roof", MilestoneID: "m1", ActorID: "tester"})
	if err != nil || task.ID.IsZero() {
		t.Fatalf("create task: %+v %v", task, err)
	}
}
