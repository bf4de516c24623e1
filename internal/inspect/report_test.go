package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/warmbridge/internal/journal"
	"github.com/mattjoyce/warmbridge/internal/notify"
	"github.com/mattjoyce/warmbridge/internal/storage"
)

func seededStore(t *testing.T) *journal.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := journal.New(db)

	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	code := 3
	if err := store.Record(ctx, journal.Entry{
		ID:            "inv-crash",
		FunctionName:  "resize",
		RequestID:     "req-9",
		Outcome:       "crashed",
		WorkerPID:     321,
		WorkerSpawned: true,
		ExitCode:      &code,
		Event:         json.RawMessage(`{"key":"a.jpg"}`),
		Output:        "loading\npanic\n",
		Diagnostic:    "EOF on worker stdout! Exit code: 3\nloading\npanic\nTest CPU",
		StartedAt:     started,
		DeadlineAt:    started.Add(25 * time.Second),
		CompletedAt:   started.Add(2 * time.Second),
		Duration:      2 * time.Second,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.RecordNotification(ctx, notify.Notification{
		ID:           "n-1",
		InvocationID: "inv-crash",
		Kind:         notify.KindError,
		Subject:      `Lambda Error: resize {"key":"a.jpg"}`,
		CreatedAt:    started.Add(2 * time.Second),
	}, context.DeadlineExceeded); err != nil {
		t.Fatalf("RecordNotification: %v", err)
	}
	return store
}

func TestBuildReportRendersEntryAndNotifications(t *testing.T) {
	t.Parallel()
	store := seededStore(t)

	out, err := BuildReport(context.Background(), store, "inv-crash")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, want := range []string{
		"Invocation Report",
		"ID          : inv-crash",
		"Request ID  : req-9",
		"crashed",
		"Worker PID  : 321 (spawned)",
		"Exit code   : 3",
		"event:\n  {\n    \"key\": \"a.jpg\"\n  }",
		"output:\n  loading\n  panic\n",
		"diagnostic:\n  EOF on worker stdout! Exit code: 3",
		"[error] Lambda Error: resize",
		"failed: context deadline exceeded",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()
	store := seededStore(t)

	out, err := BuildJSONReport(context.Background(), store, "inv-crash")
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.ID != "inv-crash" || report.Outcome != "crashed" {
		t.Fatalf("report = %+v", report.Entry)
	}
	if len(report.Notifications) != 1 || report.Notifications[0].Delivered {
		t.Fatalf("notifications = %+v", report.Notifications)
	}
}

func TestBuildReportUnknownInvocation(t *testing.T) {
	t.Parallel()
	store := seededStore(t)

	if _, err := BuildReport(context.Background(), store, "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("BuildReport(missing) error = %v", err)
	}
	if _, err := BuildReport(context.Background(), store, " "); err == nil {
		t.Fatal("expected error for blank id")
	}
}

func TestFormatList(t *testing.T) {
	t.Parallel()
	if got := FormatList(nil); got != "No invocations recorded.\n" {
		t.Fatalf("FormatList(nil) = %q", got)
	}

	out := FormatList([]journal.Entry{{
		ID:           "inv-1",
		FunctionName: "resize",
		Outcome:      "completed",
		StartedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:     1500 * time.Millisecond,
	}})
	for _, want := range []string{"OUTCOME", "inv-1", "2026-03-01 12:00:00", "completed", "1.5s", "resize"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list missing %q:\n%s", want, out)
		}
	}
}
