package db

import (
	"database/sql"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

// updateCellConfigCLI opens dbPath, applies fn to the stored configuration
// (or defaults) and saves the result in one transaction. The running module
// picks the change up on its next start.
func updateCellConfigCLI(dbPath string, fn func(c *model.CellConfig)) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	tx, err := StartTransaction(dbConn)
	if err != nil {
		return err
	}
	c := loadCellConfigWithTx(tx)
	fn(&c)
	if err := SaveCellConfigWithTx(tx, c); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

func SetSetpointCLI(dbPath string, setpointC int) error {
	return updateCellConfigCLI(dbPath, func(c *model.CellConfig) {
		c.BypassTemperatureSetPoint = setpointC
	})
}

func SetThresholdCLI(dbPath string, thresholdMV uint16) error {
	return updateCellConfigCLI(dbPath, func(c *model.CellConfig) {
		c.BypassThresholdMV = thresholdMV
	})
}

func SetCalibrationCLI(dbPath string, calibration float64) error {
	if math.IsNaN(calibration) || math.IsInf(calibration, 0) || calibration <= 0 {
		return fmt.Errorf("calibration must be a positive number, got %v", calibration)
	}
	return updateCellConfigCLI(dbPath, func(c *model.CellConfig) {
		c.Calibration = calibration
	})
}

// ShowCountersCLI writes the stored cell configuration, fault counters, run
// marker and the latest balance sessions to w.
func ShowCountersCLI(dbPath string, w io.Writer) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	return writeCounters(dbConn, w)
}

func writeCounters(dbConn *sql.DB, w io.Writer) error {
	cfg, err := LoadCellConfig(dbConn)
	if err != nil {
		fmt.Fprintf(w, "cell config: %v\n", err)
	} else {
		fmt.Fprintf(w, "cell config: calibration=%.3f setpoint=%dC threshold=%dmV\n",
			cfg.Calibration, cfg.BypassTemperatureSetPoint, cfg.BypassThresholdMV)
	}

	counts, err := GetFaultCounts(dbConn)
	if err != nil {
		return err
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "faults.%s: %d\n", k, counts[model.FaultKind(k)])
	}

	marker, err := GetRunMarker(dbConn)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "running: %v started_at=%s exited_at=%s\n", marker.Running, formatTime(marker.StartedAt), formatTime(marker.ExitedAt))

	sessions, err := ListBalanceSessions(dbConn, 10)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "session: %s -> %s reason=%s charge=%.4fmAh peak=%dC\n",
			formatTime(s.StartedAt), formatTime(s.EndedAt), s.Reason, s.ChargeMAh, s.PeakTempC)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
