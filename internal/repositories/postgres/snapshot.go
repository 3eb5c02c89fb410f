package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// SnapshotToken represents a PostgreSQL transaction snapshot.
// Format: "xmin:xmax:xip1,xip2,..." where xip lists in-progress transactions.
// Two equal tokens guarantee the same visible data, which makes the token a
// safe cache key component.
type SnapshotToken struct {
	Xmin int64
	Xmax int64
	Xip  []int64
}

// String returns the snapshot token in its textual form
func (s *SnapshotToken) String() string {
	if len(s.Xip) == 0 {
		return fmt.Sprintf("%d:%d:", s.Xmin, s.Xmax)
	}
	xipStrs := make([]string, len(s.Xip))
	for i, xid := range s.Xip {
		xipStrs[i] = strconv.FormatInt(xid, 10)
	}
	return fmt.Sprintf("%d:%d:%s", s.Xmin, s.Xmax, strings.Join(xipStrs, ","))
}

// ParseSnapshotToken parses a snapshot token string
func ParseSnapshotToken(token string) (*SnapshotToken, error) {
	if token == "" {
		return nil, fmt.Errorf("empty snapshot token")
	}

	parts := strings.Split(token, ":")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid snapshot token format: %s", token)
	}

	xmin, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid xmin in snapshot token: %w", err)
	}

	xmax, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid xmax in snapshot token: %w", err)
	}

	var xip []int64
	if len(parts) > 2 && parts[2] != "" {
		for _, s := range strings.Split(parts[2], ",") {
			xid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid xip in snapshot token: %w", err)
			}
			xip = append(xip, xid)
		}
	}

	return &SnapshotToken{Xmin: xmin, Xmax: xmax, Xip: xip}, nil
}

// SnapshotProvider yields a token identifying the currently visible data.
type SnapshotProvider interface {
	GetCurrentSnapshotForRead(ctx context.Context) (*SnapshotToken, error)
}

// PgSnapshotProvider reads the current snapshot from PostgreSQL.
type PgSnapshotProvider struct {
	db *sql.DB
}

// NewPgSnapshotProvider creates a new PgSnapshotProvider
func NewPgSnapshotProvider(db *sql.DB) *PgSnapshotProvider {
	return &PgSnapshotProvider{db: db}
}

// GetCurrentSnapshotForRead fetches the current transaction snapshot
func (p *PgSnapshotProvider) GetCurrentSnapshotForRead(ctx context.Context) (*SnapshotToken, error) {
	var raw string
	if err := p.db.QueryRowContext(ctx, "SELECT pg_current_snapshot()::text").Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to read current snapshot: %w", err)
	}
	return ParseSnapshotToken(raw)
}
