package db

import (
	"context"
	"time"
)

// Store is the group state store. Implementations must be safe for
// concurrent callers; the warning counter in particular requires atomic
// increment semantics, not read-modify-write.
type Store interface {
	Close() error

	GetGroup(ctx context.Context, chatID int64) (*Group, error)
	UpsertGroup(ctx context.Context, group *Group) error
	ListGroups(ctx context.Context) ([]*Group, error)
	DeactivateGroup(ctx context.Context, chatID int64) error

	UpsertMember(ctx context.Context, member *Member) error
	GetWarnings(ctx context.Context, chatID, userID int64) (int, error)
	IncrementWarnings(ctx context.Context, chatID, userID int64) (int, error)

	RecordActivity(ctx context.Context, activity *Activity) error
	CountActivitiesSince(ctx context.Context, chatID int64, since time.Time) (int, error)

	CreateAlert(ctx context.Context, alert *Alert) (*Alert, error)
	CountAlertsSince(ctx context.Context, chatID int64, levels []string, since time.Time) (int, error)
	RecentAlerts(ctx context.Context, chatID int64, since time.Time, limit int) ([]*Alert, error)
}
