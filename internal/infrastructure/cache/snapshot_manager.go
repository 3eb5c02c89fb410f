package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/torii-authz/torii/internal/repositories/postgres"
)

// SnapshotManager caches the store's snapshot token so every check does not
// pay a round trip for its cache key. Relationship and attribute writes fire
// a NOTIFY; the manager refreshes on notification, with a TTL fallback when
// the listener connection is down.
type SnapshotManager struct {
	mu          sync.RWMutex
	current     *postgres.SnapshotToken
	lastRefresh time.Time

	provider   postgres.SnapshotProvider
	refreshTTL time.Duration
	listener   *pq.Listener
	connStr    string
	logger     *zap.Logger
	stopCh     chan struct{}
	stopped    bool
}

// Channel written by the data_changed trigger on tuple and attribute tables.
const notifyChannel = "torii_data_changed"

// NewSnapshotManager creates a new SnapshotManager.
// connStr is the PostgreSQL connection string for LISTEN/NOTIFY;
// refreshTTL is the fallback interval for refreshing the token.
func NewSnapshotManager(db *sql.DB, connStr string, refreshTTL time.Duration, logger *zap.Logger) *SnapshotManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotManager{
		provider:   postgres.NewPgSnapshotProvider(db),
		connStr:    connStr,
		refreshTTL: refreshTTL,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start fetches the initial token and begins listening for change events.
func (m *SnapshotManager) Start(ctx context.Context) error {
	if err := m.refresh(ctx); err != nil {
		return fmt.Errorf("failed to fetch initial snapshot: %w", err)
	}
	if err := m.startListener(); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	return nil
}

// Stop stops the SnapshotManager and cleans up resources.
func (m *SnapshotManager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	m.mu.Unlock()

	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

// GetCurrentSnapshotForRead implements postgres.SnapshotProvider. It serves
// the cached token until a change notification or TTL expiry invalidates it.
func (m *SnapshotManager) GetCurrentSnapshotForRead(ctx context.Context) (*postgres.SnapshotToken, error) {
	m.mu.RLock()
	token := m.current
	stale := token == nil || time.Since(m.lastRefresh) > m.refreshTTL
	m.mu.RUnlock()

	if !stale {
		return token, nil
	}
	if err := m.refresh(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, nil
}

func (m *SnapshotManager) refresh(ctx context.Context) error {
	token, err := m.provider.GetCurrentSnapshotForRead(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = token
	m.lastRefresh = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *SnapshotManager) startListener() error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			// TTL refresh covers a down listener, so log and carry on.
			m.logger.Warn("snapshot listener problem", zap.Error(err))
		}
	}

	m.listener = pq.NewListener(m.connStr, 10*time.Second, time.Minute, reportProblem)

	if err := m.listener.Listen(notifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", notifyChannel, err)
	}

	go m.handleNotifications()
	return nil
}

func (m *SnapshotManager) handleNotifications() {
	for {
		select {
		case <-m.stopCh:
			return
		case notification := <-m.listener.Notify:
			if notification == nil {
				// Connection lost; the listener reconnects on its own.
				continue
			}
			// Data changed: drop the cached token so the next read fetches
			// a fresh snapshot.
			m.mu.Lock()
			m.current = nil
			m.mu.Unlock()
		case <-time.After(90 * time.Second):
			go func() {
				if err := m.listener.Ping(); err != nil {
					m.logger.Warn("snapshot listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// SetToken manually sets the current token. Used by tests.
func (m *SnapshotManager) SetToken(token *postgres.SnapshotToken) {
	m.mu.Lock()
	m.current = token
	m.lastRefresh = time.Now()
	m.mu.Unlock()
}
