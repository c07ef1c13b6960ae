package db

import (
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

var (
	ErrNoCellConfig     = errors.New("no cell configuration stored")
	ErrChecksumMismatch = errors.New("cell configuration checksum mismatch")
)

func cellConfigChecksum(c model.CellConfig) uint32 {
	canonical := fmt.Sprintf("%.6f|%d|%d", c.Calibration, c.BypassTemperatureSetPoint, c.BypassThresholdMV)
	return crc32.ChecksumIEEE([]byte(canonical))
}

// LoadCellConfig reads the stored cell configuration. A missing row or a
// checksum mismatch is an error; the caller substitutes defaults.
func LoadCellConfig(db *sql.DB) (model.CellConfig, error) {
	var c model.CellConfig
	var threshold int64
	var checksum int64
	err := db.QueryRow(`SELECT calibration, bypass_setpoint, bypass_threshold_mv, checksum FROM cell_config WHERE id = 1`).
		Scan(&c.Calibration, &c.BypassTemperatureSetPoint, &threshold, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CellConfig{}, ErrNoCellConfig
	}
	if err != nil {
		return model.CellConfig{}, fmt.Errorf("failed to get cell config: %w", err)
	}
	if threshold < 0 || threshold > 0xFFFF {
		return model.CellConfig{}, fmt.Errorf("%w: threshold %d out of range", ErrChecksumMismatch, threshold)
	}
	c.BypassThresholdMV = uint16(threshold)

	if uint32(checksum) != cellConfigChecksum(c) {
		return model.CellConfig{}, ErrChecksumMismatch
	}
	return c, nil
}

// GetFaultCounts returns the durable count for every known fault kind.
func GetFaultCounts(db *sql.DB) (map[model.FaultKind]uint32, error) {
	counts := make(map[model.FaultKind]uint32, len(model.FaultKinds))
	for _, k := range model.FaultKinds {
		counts[k] = 0
	}

	rows, err := db.Query(`SELECT kind, count FROM fault_counts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fault counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan fault count: %w", err)
		}
		counts[model.FaultKind(kind)] = uint32(count)
	}
	return counts, rows.Err()
}

func GetRunMarker(db *sql.DB) (model.RunMarker, error) {
	var m model.RunMarker
	var started, exited sql.NullString
	err := db.QueryRow(`SELECT running, started_at, exited_at FROM run_marker WHERE id = 1`).Scan(&m.Running, &started, &exited)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunMarker{}, nil
	}
	if err != nil {
		return model.RunMarker{}, fmt.Errorf("failed to get run marker: %w", err)
	}
	m.StartedAt = parseTime(started)
	m.ExitedAt = parseTime(exited)
	return m, nil
}

// ListBalanceSessions returns the most recent sessions, newest first.
func ListBalanceSessions(db *sql.DB, limit int) ([]model.BalanceSession, error) {
	rows, err := db.Query(`SELECT started_at, ended_at, reason, charge_mah, peak_temp_c FROM balance_sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.BalanceSession
	for rows.Next() {
		var s model.BalanceSession
		var started, ended sql.NullString
		var reason string
		if err := rows.Scan(&started, &ended, &reason, &s.ChargeMAh, &s.PeakTempC); err != nil {
			return nil, fmt.Errorf("failed to scan balance session: %w", err)
		}
		s.StartedAt = parseTime(started)
		s.EndedAt = parseTime(ended)
		s.Reason = model.StopReason(reason)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
