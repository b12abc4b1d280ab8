package rolestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/schooldocs-core/internal/roles"
)

// SQLiteStore stores role records in the role_records table.
//
// Subscribers are notified in-process after each successful Write.
type SQLiteStore struct {
	db     *sql.DB
	fanout *fanout
	now    func() time.Time
}

// NewSQLiteStore creates a store on db. The schema comes from migrations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		fanout: newFanout(),
		now:    time.Now,
	}
}

// Read returns the record for userID or ErrNotFound.
func (s *SQLiteStore) Read(ctx context.Context, userID string) (*roles.RoleRecord, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	var rec roles.RoleRecord
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT is_admin, is_teacher, title FROM role_records WHERE user_id = ?", userID,
	).Scan(&rec.IsAdmin, &rec.IsTeacher, &title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading role record: %w", err)
	}
	rec.Title = title.String
	return &rec, nil
}

// Write upserts the record. Concurrent writers resolve last-write-wins.
func (s *SQLiteStore) Write(ctx context.Context, userID string, record roles.RoleRecord) error {
	if err := s.persist(ctx, userID, record); err != nil {
		return err
	}
	s.fanout.deliver(userID, record)
	return nil
}

func (s *SQLiteStore) persist(ctx context.Context, userID string, record roles.RoleRecord) error {
	if userID == "" {
		return ErrInvalidUserID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_records (user_id, is_admin, is_teacher, title, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			is_admin = excluded.is_admin,
			is_teacher = excluded.is_teacher,
			title = excluded.title,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`,
		userID, record.IsAdmin, record.IsTeacher, nullString(record.Title),
		s.now().UTC().Format(time.RFC3339), nullString(actorFrom(ctx)),
	)
	if err != nil {
		return fmt.Errorf("writing role record: %w", err)
	}
	return nil
}

// List returns every stored record ordered by user ID.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, is_admin, is_teacher, title, updated_at, updated_by FROM role_records ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("listing role records: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var title, updatedBy sql.NullString
		var updatedAt string
		if err := rows.Scan(&e.UserID, &e.Record.IsAdmin, &e.Record.IsTeacher, &title, &updatedAt, &updatedBy); err != nil {
			return nil, fmt.Errorf("scanning role record: %w", err)
		}
		e.Record.Title = title.String
		e.UpdatedBy = updatedBy.String
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role records: %w", err)
	}
	return entries, nil
}

// Subscribe registers fn for writes to userID made through this store.
func (s *SQLiteStore) Subscribe(userID string, fn func(roles.RoleRecord)) (Subscription, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	id, _ := s.fanout.add(userID, fn)
	return &subscription{cancel: func() error {
		s.fanout.remove(userID, id)
		return nil
	}}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
