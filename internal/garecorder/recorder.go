// Package garecorder passively records which group addresses and device
// individual addresses have been observed on the bus, building a
// discovery database over time with no manual configuration step.
package garecorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/knxtunnel/knxtunnel"
)

// Logger is the subset of logging.Logger the recorder needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder records every group event the bridge observes. It implements
// no KNX I/O itself; the bridge calls Record for each inbound GroupEvent.
//
// Thread Safety: all methods are safe for concurrent use.
type Recorder struct {
	db     *sql.DB
	logger Logger

	gaUpsertStmt     *sql.Stmt
	deviceUpsertStmt *sql.Stmt
	stmtMu           sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// New creates a recorder over db. The caller must have already applied the
// knx_group_addresses/knx_devices schema (see database.DB.Migrate).
func New(db *sql.DB, logger Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Start prepares the upsert statements. Must be called before Record.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.gaUpsertStmt != nil {
		return nil
	}

	gaStmt, err := r.db.Prepare(`
		INSERT INTO knx_group_addresses (group_address, last_seen, message_count, has_read_response)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(group_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			has_read_response = MAX(has_read_response, excluded.has_read_response)
	`)
	if err != nil {
		return fmt.Errorf("preparing group address upsert: %w", err)
	}

	deviceStmt, err := r.db.Prepare(`
		INSERT INTO knx_devices (individual_address, last_seen, message_count)
		VALUES (?, ?, 1)
		ON CONFLICT(individual_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1
	`)
	if err != nil {
		gaStmt.Close()
		return fmt.Errorf("preparing device upsert: %w", err)
	}

	r.gaUpsertStmt = gaStmt
	r.deviceUpsertStmt = deviceStmt
	if r.logger != nil {
		r.logger.Info("ga recorder started")
	}
	return nil
}

// Stop closes the prepared statements.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	if r.gaUpsertStmt != nil {
		r.gaUpsertStmt.Close()
		r.gaUpsertStmt = nil
	}
	if r.deviceUpsertStmt != nil {
		r.deviceUpsertStmt.Close()
		r.deviceUpsertStmt = nil
	}
}

// Record records the destination group address (and, when known, the
// source individual address) of an inbound telegram.
func (r *Recorder) Record(source knxtunnel.IndividualAddress, destination uint16, isResponse bool) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.stmtMu.Lock()
	gaStmt, deviceStmt := r.gaUpsertStmt, r.deviceUpsertStmt
	r.stmtMu.Unlock()
	if gaStmt == nil || deviceStmt == nil {
		return
	}

	now := time.Now().Unix()

	if source != (knxtunnel.IndividualAddress{}) {
		if _, err := deviceStmt.Exec(source.String(), now); err != nil {
			r.logError("recording device", err)
		}
	}

	hasResponse := 0
	if isResponse {
		hasResponse = 1
	}
	ga := knxtunnel.GroupAddress3FromUint16(destination).String()
	if _, err := gaStmt.Exec(ga, now, hasResponse); err != nil {
		r.logError("recording group address", err)
	}
}

// HealthCheckCandidates returns up to limit group addresses to poll next,
// cycling verified responders first and discovery candidates second.
func (r *Recorder) HealthCheckCandidates(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_address FROM knx_group_addresses
		ORDER BY has_read_response DESC, last_health_check ASC, last_seen DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}

// MarkHealthCheckUsed records that ga was just polled, so the next
// HealthCheckCandidates call cycles to a different address.
func (r *Recorder) MarkHealthCheckUsed(ctx context.Context, ga string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE knx_group_addresses SET last_health_check = ? WHERE group_address = ?
	`, time.Now().Unix(), ga)
	return err
}

// GroupAddressCount returns the number of distinct group addresses seen.
func (r *Recorder) GroupAddressCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knx_group_addresses`).Scan(&count)
	return count, err
}

func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
