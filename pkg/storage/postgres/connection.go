package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// ConnectionManager manages the primary connection plus optional read
// replicas. Identity and settings reads go to a replica when one is
// configured; every write goes to the primary.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32 // round-robin cursor
	mu       sync.RWMutex
	config   ConnectionConfig
}

// ConnectionConfig holds pool sizing and the primary/replica URLs.
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// open dials one database and verifies it answers within the configured
// timeout.
func (c ConnectionConfig) open(url string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(c.MinConns)
	db.SetConnMaxLifetime(c.MaxLifetime)
	db.SetConnMaxIdleTime(c.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewConnectionManager dials the primary and whatever replicas answer.
// An unreachable primary is fatal; an unreachable replica is skipped.
func NewConnectionManager(config ConnectionConfig) (*ConnectionManager, error) {
	primary, err := config.open(config.PrimaryURL, config.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary: %w", err)
	}

	cm := &ConnectionManager{
		config:   config,
		primary:  primary,
		replicas: make([]*sql.DB, 0, len(config.ReplicaURLs)),
	}

	// Replicas get half the primary's pool; reads spread across them.
	replicaConns := config.MaxConns / 2
	if replicaConns < 2 {
		replicaConns = 2
	}
	for i, url := range config.ReplicaURLs {
		replica, err := config.open(url, replicaConns)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping replica %d: %v\n", i, err)
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}

	return cm, nil
}

// Primary returns the write connection.
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica chosen round-robin, or the primary when
// no replica survived startup.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}
	next := atomic.AddUint32(&cm.current, 1)
	return cm.replicas[int(next%uint32(len(cm.replicas)))]
}

// HealthCheck pings the primary and every replica. Degraded replicas are
// tolerated until the last one goes; the primary is always required.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	cm.mu.RLock()
	replicas := make([]*sql.DB, len(cm.replicas))
	copy(replicas, cm.replicas)
	cm.mu.RUnlock()

	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}
	if len(unhealthy) > 0 && len(unhealthy) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}
	return nil
}

// Close closes every connection, collecting rather than short-circuiting
// on errors.
func (cm *ConnectionManager) Close() error {
	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close error: %w", err))
	}

	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()

	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d close error: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("connection close errors: %v", errs)
	}
	return nil
}

// ParseReplicaURLs splits the comma-separated replica list from the
// environment, dropping empty entries.
func ParseReplicaURLs(replicaURLsStr string) []string {
	if replicaURLsStr == "" {
		return nil
	}

	parts := strings.Split(replicaURLsStr, ",")
	urls := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}
