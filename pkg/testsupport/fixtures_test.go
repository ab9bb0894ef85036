package testsupport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-offline-cache/offline"
)

func TestLoadFixture(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "rules.yaml")
	testContent := []byte("rules: []")

	if err := os.WriteFile(testFile, testContent, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	result := LoadFixture(t, testFile)
	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}
}

func TestFixturePath(t *testing.T) {
	if got := FixturePath("rules.yaml"); got != filepath.Join("testdata", "rules.yaml") {
		t.Errorf("unexpected fixture path %q", got)
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	if !clock.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, clock.Now())
	}

	clock.Advance(time.Minute)
	if want := start.Add(time.Minute); !clock.Now().Equal(want) {
		t.Errorf("expected %v, got %v", want, clock.Now())
	}
}

func TestRecordingExecutor_ScriptedFailures(t *testing.T) {
	exec := NewRecordingExecutor()
	boom := errors.New("boom")
	exec.FailNext("updateInventory", boom)

	op := offline.Mutation("updateInventory", nil)
	if _, err := exec.Execute(context.Background(), op, nil); !errors.Is(err, boom) {
		t.Fatalf("expected scripted failure, got %v", err)
	}

	result, err := exec.Execute(context.Background(), op, map[string]any{"id": "1"})
	if err != nil {
		t.Fatalf("expected success after script drained, got %v", err)
	}
	if result != "updateInventory" {
		t.Errorf("unexpected result %v", result)
	}

	if got := exec.Names(); len(got) != 2 {
		t.Errorf("expected 2 recorded calls, got %v", got)
	}
}

func TestRecordingInvalidator(t *testing.T) {
	var inv RecordingInvalidator
	inv.InvalidateFromMutation(context.Background(), "updateItem", map[string]any{"id": "7"}, "acme")

	calls := inv.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].MutationType != "updateItem" || calls[0].TenantID != "acme" {
		t.Errorf("unexpected call %+v", calls[0])
	}
}

func TestStaticProber(t *testing.T) {
	prober, set := StaticProber(false)

	if err := prober.Probe(context.Background()); err == nil {
		t.Fatal("expected unreachable prober to fail")
	}

	set(true)
	if err := prober.Probe(context.Background()); err != nil {
		t.Errorf("expected reachable prober to succeed, got %v", err)
	}
}

func TestOpenTestDB(t *testing.T) {
	db := OpenTestDB(t)
	if err := db.PingContext(context.Background()); err != nil {
		t.Fatalf("expected open database, got %v", err)
	}
}
