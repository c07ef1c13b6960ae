package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/cell-balancer/internal/config"
)

const (
	BootUnitName = "cell-module-gpio.service"
	MainUnitName = "cell-module.service"
)

type Options struct {
	BinaryPath string
	ConfigFile string
	User       string
	WorkingDir string
	ScriptPath string
}

// BootScript drives the load, LED, reference and thermistor enable lines low
// with libgpiod's gpioset.
func BootScript(gpio config.GPIO) string {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# Cell module GPIO lines at boot", "")

	write := func(label string, line int) {
		lines = append(lines, fmt.Sprintf("# %s", label))
		lines = append(lines, fmt.Sprintf("gpioset %s %d=0", gpio.Chip, line))
		lines = append(lines, "")
	}
	write("load", gpio.LoadLine)
	write("led", gpio.LedLine)
	write("reference", gpio.ReferenceLine)
	write("temp_enable", gpio.TempEnableLine)

	return strings.Join(lines, "\n") + "\n"
}

func BootUnit(scriptPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Hold cell module GPIO lines low at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, scriptPath)
}

// MainUnit restarts the module on failure. The restarted run finds the
// previous run marker still set and boots as a watchdog reset.
func MainUnit(opts Options) string {
	exec := opts.BinaryPath
	if opts.ConfigFile != "" {
		exec += " --config " + opts.ConfigFile
	}

	return fmt.Sprintf(`[Unit]
Description=Cell balancing module
After=%s
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, BootUnitName, BootUnitName, opts.User, opts.WorkingDir, exec)
}

// Install writes the boot script and both units into unitDir.
func Install(unitDir string, gpio config.GPIO, opts Options) error {
	if opts.BinaryPath == "" {
		return fmt.Errorf("binary path is required")
	}
	if err := os.WriteFile(opts.ScriptPath, []byte(BootScript(gpio)), 0755); err != nil {
		return fmt.Errorf("write boot script: %w", err)
	}
	if err := os.WriteFile(filepath.Join(unitDir, BootUnitName), []byte(BootUnit(opts.ScriptPath)), 0644); err != nil {
		return fmt.Errorf("write boot unit: %w", err)
	}
	if err := os.WriteFile(filepath.Join(unitDir, MainUnitName), []byte(MainUnit(opts)), 0644); err != nil {
		return fmt.Errorf("write service unit: %w", err)
	}
	return nil
}
