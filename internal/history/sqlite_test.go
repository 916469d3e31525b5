package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-orchestrator/migrations"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) (*SQLiteRepository, *testingclock.FakePassiveClock) {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	clk := testingclock.NewFakePassiveClock(epoch)
	return NewSQLiteRepository(db.DB, clk), clk
}

func TestRecordAndList(t *testing.T) {
	repo, clk := setupRepo(t)
	ctx := context.Background()

	for i, state := range []string{"IDLE", "CLAIMING", "CLAIMED"} {
		clk.SetTime(epoch.Add(time.Duration(i) * time.Second))
		if err := repo.Record(ctx, Entry{Device: "station", Property: "state", Value: state, Host: "rack-1"}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := repo.Record(ctx, Entry{Device: "dish1", Property: "state", Value: "IDLE"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := repo.List(ctx, "station", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(entries))
	}

	want := []string{"CLAIMED", "CLAIMING", "IDLE"}
	for i, e := range entries {
		if e.Value != want[i] {
			t.Errorf("entries[%d].Value = %q, want %q", i, e.Value, want[i])
		}
		if e.Host != "rack-1" {
			t.Errorf("entries[%d].Host = %q, want rack-1", i, e.Host)
		}
	}
	if !entries[0].CreatedAt.Equal(epoch.Add(2 * time.Second)) {
		t.Errorf("entries[0].CreatedAt = %v, want %v", entries[0].CreatedAt, epoch.Add(2*time.Second))
	}
}

func TestList_SameInstantNewestFirst(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	for _, v := range []string{"first", "second"} {
		if err := repo.Record(ctx, Entry{Device: "d", Property: "state", Value: v}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := repo.List(ctx, "d", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Value != "second" {
		t.Errorf("List() = %+v, want second first", entries)
	}
}

func TestList_Limit(t *testing.T) {
	repo, clk := setupRepo(t)
	ctx := context.Background()

	for i := 0; i < MaxLimit+10; i++ {
		clk.SetTime(epoch.Add(time.Duration(i) * time.Millisecond))
		if err := repo.Record(ctx, Entry{Device: "d", Property: "state", Value: "IDLE"}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: DefaultLimit},
		{limit: -1, want: DefaultLimit},
		{limit: 5, want: 5},
		{limit: 1000, want: MaxLimit},
	}
	for _, tt := range tests {
		entries, err := repo.List(ctx, "d", tt.limit)
		if err != nil {
			t.Fatalf("List(%d) error = %v", tt.limit, err)
		}
		if len(entries) != tt.want {
			t.Errorf("List(%d) returned %d entries, want %d", tt.limit, len(entries), tt.want)
		}
	}
}

func TestDeviceRequired(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	if err := repo.Record(ctx, Entry{Property: "state"}); !errors.Is(err, ErrDeviceRequired) {
		t.Errorf("Record() error = %v, want ErrDeviceRequired", err)
	}
	if _, err := repo.List(ctx, "", 10); !errors.Is(err, ErrDeviceRequired) {
		t.Errorf("List() error = %v, want ErrDeviceRequired", err)
	}
}

func TestPrune(t *testing.T) {
	repo, clk := setupRepo(t)
	ctx := context.Background()

	old := Entry{Device: "d", Property: "state", Value: "IDLE", CreatedAt: epoch.Add(-48 * time.Hour)}
	recent := Entry{Device: "d", Property: "state", Value: "CLAIMED", CreatedAt: epoch.Add(-time.Hour)}
	for _, e := range []Entry{old, recent} {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	clk.SetTime(epoch)

	n, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() deleted %d rows, want 1", n)
	}

	entries, err := repo.List(ctx, "d", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Value != "CLAIMED" {
		t.Errorf("after prune List() = %+v, want only CLAIMED", entries)
	}

	if _, err := repo.Prune(ctx, 0); !errors.Is(err, ErrInvalidRetention) {
		t.Errorf("Prune(0) error = %v, want ErrInvalidRetention", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Time
		wantErr bool
	}{
		{name: "column default", value: "2026-03-01T12:00:00.250Z", want: epoch.Add(250 * time.Millisecond)},
		{name: "rfc3339", value: "2026-03-01T12:00:00Z", want: epoch},
		{name: "empty", value: "", wantErr: true},
		{name: "garbage", value: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimestamp(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTimestamp(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseTimestamp(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
