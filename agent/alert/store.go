// Package alert persists operator alerts and handoff requests in Postgres so
// the practice dashboard and the on-call flow can pick them up.
package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

// AlertRecord is one operator-facing incident row.
type AlertRecord struct {
	bun.BaseModel `bun:"table:alerts"`

	ID        string          `bun:"id,pk"`
	CallID    string          `bun:"call_id,notnull"`
	Reason    string          `bun:"reason,notnull"`
	Detail    string          `bun:"detail"`
	Payload   json.RawMessage `bun:"payload,type:jsonb"`
	Resolved  bool            `bun:"resolved,notnull,default:false"`
	CreatedAt time.Time       `bun:"created_at,notnull"`
}

// HandoffRecord is one human-takeover request row.
type HandoffRecord struct {
	bun.BaseModel `bun:"table:handoffs"`

	ID        string    `bun:"id,pk"`
	CallID    string    `bun:"call_id,notnull"`
	Reason    string    `bun:"reason,notnull"`
	Category  string    `bun:"category"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// Store implements the alert sink on Postgres via bun.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore opens a connection from a Postgres DSN.
func NewStore(dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return NewStoreFromDB(bun.NewDB(sqldb, pgdialect.New()), opts...)
}

// NewStoreFromDB wraps an existing bun handle; used by tests.
func NewStoreFromDB(db *bun.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, model := range []any{(*AlertRecord)(nil), (*HandoffRecord)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateAlert(ctx context.Context, alert contractx.Alert) error {
	payload, err := json.Marshal(alert.Payload)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	record := &AlertRecord{
		ID:        uuid.NewString(),
		CallID:    alert.CallID,
		Reason:    alert.Reason,
		Detail:    alert.Detail,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}

	log.Info().Str("call_id", alert.CallID).Str("reason", alert.Reason).
		Msg("operator alert recorded")
	return nil
}

func (s *Store) RouteHandoff(ctx context.Context, handoff contractx.Handoff) error {
	record := &HandoffRecord{
		ID:        uuid.NewString(),
		CallID:    handoff.CallID,
		Reason:    handoff.Reason,
		Category:  handoff.Category,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return fmt.Errorf("insert handoff: %w", err)
	}

	log.Info().Str("call_id", handoff.CallID).Str("reason", handoff.Reason).
		Str("category", handoff.Category).Msg("handoff routed")
	return nil
}

// Unresolved lists open alerts, newest first.
func (s *Store) Unresolved(ctx context.Context, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []AlertRecord
	err := s.db.NewSelect().Model(&records).
		Where("resolved = FALSE").
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved alerts: %w", err)
	}
	return records, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
