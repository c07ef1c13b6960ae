package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func SaveCellConfig(db *sql.DB, c model.CellConfig) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if err := SaveCellConfigWithTx(tx, c); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

func SaveCellConfigWithTx(tx *sql.Tx, c model.CellConfig) error {
	_, err := tx.Exec(`INSERT INTO cell_config (id, calibration, bypass_setpoint, bypass_threshold_mv, checksum, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			calibration = excluded.calibration,
			bypass_setpoint = excluded.bypass_setpoint,
			bypass_threshold_mv = excluded.bypass_threshold_mv,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at`,
		c.Calibration, c.BypassTemperatureSetPoint, int64(c.BypassThresholdMV), int64(cellConfigChecksum(c)), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save cell config: %w", err)
	}
	return nil
}

// loadCellConfigWithTx reads the stored config inside tx, falling back to
// defaults when nothing valid is stored.
func loadCellConfigWithTx(tx *sql.Tx) model.CellConfig {
	var c model.CellConfig
	var threshold, checksum int64
	err := tx.QueryRow(`SELECT calibration, bypass_setpoint, bypass_threshold_mv, checksum FROM cell_config WHERE id = 1`).
		Scan(&c.Calibration, &c.BypassTemperatureSetPoint, &threshold, &checksum)
	if err != nil || threshold < 0 || threshold > 0xFFFF {
		return model.DefaultCellConfig()
	}
	c.BypassThresholdMV = uint16(threshold)
	if uint32(checksum) != cellConfigChecksum(c) {
		return model.DefaultCellConfig()
	}
	return c
}

// IncrementFaultCount adds one to the durable counter for kind and returns the
// new value.
func IncrementFaultCount(db *sql.DB, kind model.FaultKind) (uint32, error) {
	tx, err := StartTransaction(db)
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(`INSERT INTO fault_counts (kind, count) VALUES (?, 1)
		ON CONFLICT(kind) DO UPDATE SET count = count + 1`, string(kind))
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("increment fault count %s: %w", kind, err)
	}
	var count int64
	if err := tx.QueryRow(`SELECT count FROM fault_counts WHERE kind = ?`, string(kind)).Scan(&count); err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("read fault count %s: %w", kind, err)
	}
	if err := CommitTransaction(tx); err != nil {
		return 0, err
	}
	return uint32(count), nil
}

func ResetFaultCounts(db *sql.DB) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM fault_counts`); err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("reset fault counts: %w", err)
	}
	return CommitTransaction(tx)
}

// MarkRunning records that the module is running and returns the marker left
// by the previous run. A previous marker that is still running means that run
// never exited cleanly.
func MarkRunning(db *sql.DB) (model.RunMarker, error) {
	tx, err := StartTransaction(db)
	if err != nil {
		return model.RunMarker{}, err
	}

	var previous model.RunMarker
	var started, exited sql.NullString
	err = tx.QueryRow(`SELECT running, started_at, exited_at FROM run_marker WHERE id = 1`).Scan(&previous.Running, &started, &exited)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		RollbackTransaction(tx)
		return model.RunMarker{}, fmt.Errorf("read run marker: %w", err)
	}
	previous.StartedAt = parseTime(started)
	previous.ExitedAt = parseTime(exited)

	_, err = tx.Exec(`INSERT INTO run_marker (id, running, started_at, exited_at) VALUES (1, TRUE, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET running = TRUE, started_at = excluded.started_at, exited_at = NULL`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		RollbackTransaction(tx)
		return model.RunMarker{}, fmt.Errorf("write run marker: %w", err)
	}

	if err := CommitTransaction(tx); err != nil {
		return model.RunMarker{}, err
	}
	return previous, nil
}

func MarkCleanExit(db *sql.DB) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE run_marker SET running = FALSE, exited_at = ? WHERE id = 1`, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("mark clean exit: %w", err)
	}
	return CommitTransaction(tx)
}

func RecordBalanceSession(db *sql.DB, s model.BalanceSession) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO balance_sessions (started_at, ended_at, reason, charge_mah, peak_temp_c) VALUES (?, ?, ?, ?, ?)`,
		s.StartedAt.UTC().Format(time.RFC3339Nano), s.EndedAt.UTC().Format(time.RFC3339Nano), string(s.Reason), float64(s.ChargeMAh), int64(s.PeakTempC))
	if err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("record balance session: %w", err)
	}
	return CommitTransaction(tx)
}
