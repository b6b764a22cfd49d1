package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/watchtowerbot/watchtower/internal/db"
)

func newTestStore(t *testing.T) db.Store {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("cant create store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return store
}

func TestGroupLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetGroup(ctx, -1001); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown group, got %v", err)
	}

	group := &db.Group{
		ID:          -1001,
		Title:       "Watched Group",
		Type:        "supergroup",
		MemberCount: 12,
		Status:      "safe",
		Active:      true,
	}
	if err := store.UpsertGroup(ctx, group); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetGroup(ctx, -1001)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Watched Group" || got.MemberCount != 12 || !got.Active {
		t.Fatalf("unexpected group: %+v", got)
	}

	group.Status = "high_risk"
	group.MemberCount = 13
	if err := store.UpsertGroup(ctx, group); err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	got, _ = store.GetGroup(ctx, -1001)
	if got.Status != "high_risk" || got.MemberCount != 13 {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := store.UpsertGroup(ctx, &db.Group{ID: -1002, Title: "Second", Active: true}); err != nil {
		t.Fatalf("upsert second: %v", err)
	}
	groups, err := store.ListGroups(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	if err := store.DeactivateGroup(ctx, -1001); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ = store.GetGroup(ctx, -1001)
	if got.Active {
		t.Fatal("group must be inactive after deactivation")
	}
}

func TestMemberWarnings(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	// Unknown members carry zero warnings, not an error.
	warnings, err := store.GetWarnings(ctx, -1001, 100)
	if err != nil || warnings != 0 {
		t.Fatalf("GetWarnings unknown = %d, %v", warnings, err)
	}

	if err := store.UpsertMember(ctx, &db.Member{
		ChatID:     -1001,
		UserID:     100,
		Username:   "someone",
		FirstName:  "Some",
		LastSeenAt: time.Now(),
	}); err != nil {
		t.Fatalf("upsert member: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementWarnings(ctx, -1001, 100)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("increment returned %d, want %d", got, want)
		}
	}

	// Profile updates must not clobber the counter.
	if err := store.UpsertMember(ctx, &db.Member{
		ChatID:     -1001,
		UserID:     100,
		Username:   "renamed",
		Suspicious: true,
		LastSeenAt: time.Now(),
	}); err != nil {
		t.Fatalf("upsert member again: %v", err)
	}
	warnings, err = store.GetWarnings(ctx, -1001, 100)
	if err != nil || warnings != 3 {
		t.Fatalf("warnings after profile update = %d, %v, want 3", warnings, err)
	}

	// Incrementing an unseen member creates the row.
	got, err := store.IncrementWarnings(ctx, -1001, 200)
	if err != nil || got != 1 {
		t.Fatalf("increment unseen member = %d, %v, want 1", got, err)
	}
}

func TestIncrementWarningsConcurrent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementWarnings(ctx, -1001, 100); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent increment: %v", err)
	}

	warnings, err := store.GetWarnings(ctx, -1001, 100)
	if err != nil {
		t.Fatalf("get warnings: %v", err)
	}
	if warnings != workers {
		t.Fatalf("lost updates: warnings = %d, want %d", warnings, workers)
	}
}

func TestActivitiesWindow(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	records := []db.Activity{
		{ChatID: -1001, UserID: 100, Kind: db.ActivityMessage, Content: "old", RiskLevel: "none", CreatedAt: now.Add(-48 * time.Hour)},
		{ChatID: -1001, UserID: 100, Kind: db.ActivityMessage, Content: "recent", RiskLevel: "high", CreatedAt: now.Add(-time.Hour)},
		{ChatID: -1001, UserID: 0, Kind: db.ActivityScan, RiskLevel: "none", CreatedAt: now},
		{ChatID: -1002, UserID: 100, Kind: db.ActivityMessage, Content: "other group", RiskLevel: "none", CreatedAt: now},
	}
	for i := range records {
		if err := store.RecordActivity(ctx, &records[i]); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	count, err := store.CountActivitiesSince(ctx, -1001, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("24h window count = %d, want 2", count)
	}

	count, _ = store.CountActivitiesSince(ctx, -1001, now.Add(-72*time.Hour))
	if count != 3 {
		t.Fatalf("72h window count = %d, want 3", count)
	}
}

func TestAlerts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seed := []db.Alert{
		{ChatID: -1001, Kind: "message_risk", Message: "m1", RiskLevel: "high", ActionTaken: "deleted", CreatedAt: now.Add(-3 * time.Hour)},
		{ChatID: -1001, Kind: "message_risk", Message: "m2", RiskLevel: "medium", ActionTaken: "restricted", CreatedAt: now.Add(-2 * time.Hour)},
		{ChatID: -1001, Kind: "message_risk", Message: "m3", RiskLevel: "low", ActionTaken: "none", CreatedAt: now.Add(-time.Hour)},
		{ChatID: -1001, Kind: "message_risk", Message: "stale", RiskLevel: "high", ActionTaken: "deleted", CreatedAt: now.Add(-48 * time.Hour)},
		{ChatID: -1002, Kind: "message_risk", Message: "other", RiskLevel: "high", ActionTaken: "deleted", CreatedAt: now},
	}
	for i := range seed {
		stored, err := store.CreateAlert(ctx, &seed[i])
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if stored.ID == 0 {
			t.Fatal("created alert must carry its row ID")
		}
	}

	since := now.Add(-24 * time.Hour)
	count, err := store.CountAlertsSince(ctx, -1001, []string{"medium", "high"}, since)
	if err != nil {
		t.Fatalf("count filtered: %v", err)
	}
	if count != 2 {
		t.Fatalf("filtered count = %d, want 2", count)
	}

	count, _ = store.CountAlertsSince(ctx, -1001, nil, since)
	if count != 3 {
		t.Fatalf("unfiltered count = %d, want 3", count)
	}

	alerts, err := store.RecentAlerts(ctx, -1001, since, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("recent limit = %d results, want 2", len(alerts))
	}
	if alerts[0].Message != "m3" || alerts[1].Message != "m2" {
		t.Fatalf("recent alerts out of order: %s, %s", alerts[0].Message, alerts[1].Message)
	}
}
