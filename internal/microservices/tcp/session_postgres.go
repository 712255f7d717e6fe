package tcp

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// sessionRow is the echo_sessions table.
type sessionRow struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	Remote      string    `gorm:"type:varchar(255)"`
	BytesEchoed int64     `gorm:"not null;default:0"`
	Chunks      int       `gorm:"not null;default:0"`
	StartedAt   time.Time `gorm:"index"`
	EndedAt     time.Time
	Outcome     string `gorm:"type:varchar(32)"`
	Error       string `gorm:"type:text"`
}

func (sessionRow) TableName() string { return "echo_sessions" }

func toRow(rec *SessionRecord) sessionRow {
	return sessionRow{
		ID:          rec.ID,
		Remote:      rec.Remote,
		BytesEchoed: rec.BytesEchoed,
		Chunks:      rec.Chunks,
		StartedAt:   rec.StartedAt,
		EndedAt:     rec.EndedAt,
		Outcome:     string(rec.Outcome),
		Error:       rec.Error,
	}
}

func (row sessionRow) record() *SessionRecord {
	return &SessionRecord{
		ID:          row.ID,
		Remote:      row.Remote,
		BytesEchoed: row.BytesEchoed,
		Chunks:      row.Chunks,
		StartedAt:   row.StartedAt,
		EndedAt:     row.EndedAt,
		Outcome:     SessionOutcome(row.Outcome),
		Error:       row.Error,
	}
}

// SessionPostgresRepo is the durable session history.
type SessionPostgresRepo struct {
	db *gorm.DB
}

func NewSessionPostgresRepo(dsn string) (*SessionPostgresRepo, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewSessionPostgresRepoFromDB(db)
}

// NewSessionPostgresRepoFromDB migrates the table on an existing handle.
func NewSessionPostgresRepoFromDB(db *gorm.DB) (*SessionPostgresRepo, error) {
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate echo_sessions: %w", err)
	}
	return &SessionPostgresRepo{db: db}, nil
}

func (r *SessionPostgresRepo) SaveSession(ctx context.Context, rec *SessionRecord) error {
	row := toRow(rec)
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save session to postgres: %w", err)
	}
	return nil
}

// BatchInsert writes recs in one statement per 100 rows; IDs already
// present are left untouched.
func (r *SessionPostgresRepo) BatchInsert(ctx context.Context, recs []*SessionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]sessionRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, toRow(rec))
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 100).Error
	if err != nil {
		return fmt.Errorf("failed to batch insert sessions: %w", err)
	}
	return nil
}

func (r *SessionPostgresRepo) RecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []sessionRow
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*SessionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func (r *SessionPostgresRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
