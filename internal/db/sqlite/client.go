package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"time"

	"github.com/iamwavecut/tool"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/watchtowerbot/watchtower/internal/db"
	"github.com/watchtowerbot/watchtower/resources"
)

type sqliteStore struct {
	db    *sqlx.DB
	mutex sync.Mutex
}

func NewSQLiteStore(ctx context.Context, dir, dbPath string) (*sqliteStore, error) {
	dbx, err := sqlx.Open("sqlite", filepath.Join(dir, dbPath))
	if err != nil {
		return nil, errors.WithMessage(err, "cant open db")
	}
	dbx.SetMaxOpenConns(42)

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	if _, _, err = migrate.PlanMigration(dbx.DB, "sqlite3", migrationsSource, migrate.Up, 0); err != nil {
		return nil, errors.WithMessage(err, "migrate plan failed")
	}
	n, err := migrate.Exec(dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		return nil, errors.WithMessage(err, "migrate up failed")
	}
	if n > 0 {
		log.Infof("applied %d migrations!", n)
	}

	return &sqliteStore{db: dbx}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) GetGroup(ctx context.Context, chatID int64) (*db.Group, error) {
	res := &db.Group{}
	err := s.db.GetContext(ctx, res, `
		SELECT id, title, type, member_count, status, last_scan_at, active
		FROM groups WHERE id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	return res, err
}

func (s *sqliteStore) UpsertGroup(ctx context.Context, group *db.Group) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO groups (id, title, type, member_count, status, last_scan_at, active)
		VALUES (:id, :title, :type, :member_count, :status, :last_scan_at, :active)
		ON CONFLICT(id) DO UPDATE SET
		title=excluded.title,
		type=excluded.type,
		member_count=excluded.member_count,
		status=excluded.status,
		last_scan_at=excluded.last_scan_at,
		active=excluded.active;
	`
	return tool.Err(s.db.NamedExecContext(ctx, query, group))
}

func (s *sqliteStore) ListGroups(ctx context.Context) ([]*db.Group, error) {
	var groups []*db.Group
	err := s.db.SelectContext(ctx, &groups, `
		SELECT id, title, type, member_count, status, last_scan_at, active
		FROM groups ORDER BY id`)
	return groups, err
}

func (s *sqliteStore) DeactivateGroup(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE groups SET active = 0 WHERE id = ?`, chatID)
	return err
}

func (s *sqliteStore) UpsertMember(ctx context.Context, member *db.Member) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO members (chat_id, user_id, username, first_name, is_bot, suspicious, last_seen_at)
		VALUES (:chat_id, :user_id, :username, :first_name, :is_bot, :suspicious, :last_seen_at)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
		username=excluded.username,
		first_name=excluded.first_name,
		is_bot=excluded.is_bot,
		suspicious=excluded.suspicious,
		last_seen_at=excluded.last_seen_at;
	`
	return tool.Err(s.db.NamedExecContext(ctx, query, member))
}

func (s *sqliteStore) GetWarnings(ctx context.Context, chatID, userID int64) (int, error) {
	var warnings int
	err := s.db.GetContext(ctx, &warnings,
		`SELECT warnings FROM members WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return warnings, err
}

// IncrementWarnings bumps the per-sender counter in a single statement so
// concurrent callers can never lose an update.
func (s *sqliteStore) IncrementWarnings(ctx context.Context, chatID, userID int64) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var warnings int
	err := s.db.GetContext(ctx, &warnings, `
		INSERT INTO members (chat_id, user_id, warnings, last_seen_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
		warnings = members.warnings + 1,
		last_seen_at = excluded.last_seen_at
		RETURNING warnings`, chatID, userID, time.Now())
	return warnings, err
}

func (s *sqliteStore) RecordActivity(ctx context.Context, activity *db.Activity) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO activities (chat_id, user_id, kind, content, risk_level, trace_id, created_at)
		VALUES (:chat_id, :user_id, :kind, :content, :risk_level, :trace_id, :created_at)
	`
	return tool.Err(s.db.NamedExecContext(ctx, query, activity))
}

func (s *sqliteStore) CountActivitiesSince(ctx context.Context, chatID int64, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM activities WHERE chat_id = ? AND created_at >= ?`, chatID, since)
	return count, err
}

func (s *sqliteStore) CreateAlert(ctx context.Context, alert *db.Alert) (*db.Alert, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (chat_id, kind, message, risk_level, action_taken, resolved, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ChatID,
		alert.Kind,
		alert.Message,
		alert.RiskLevel,
		alert.ActionTaken,
		alert.Resolved,
		alert.TraceID,
		alert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	alert.ID = id
	return alert, nil
}

func (s *sqliteStore) CountAlertsSince(ctx context.Context, chatID int64, levels []string, since time.Time) (int, error) {
	if len(levels) == 0 {
		var count int
		err := s.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM alerts WHERE chat_id = ? AND created_at >= ?`, chatID, since)
		return count, err
	}
	query, args, err := sqlx.In(
		`SELECT COUNT(*) FROM alerts WHERE chat_id = ? AND created_at >= ? AND risk_level IN (?)`,
		chatID, since, levels)
	if err != nil {
		return 0, err
	}
	query = s.db.Rebind(query)
	var count int
	err = s.db.GetContext(ctx, &count, query, args...)
	return count, err
}

func (s *sqliteStore) RecentAlerts(ctx context.Context, chatID int64, since time.Time, limit int) ([]*db.Alert, error) {
	var alerts []*db.Alert
	err := s.db.SelectContext(ctx, &alerts, `
		SELECT id, chat_id, kind, message, risk_level, action_taken, resolved, trace_id, created_at
		FROM alerts WHERE chat_id = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT ?`, chatID, since, limit)
	return alerts, err
}
