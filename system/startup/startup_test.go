package startup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/cell-balancer/internal/config"
)

var testGPIO = config.GPIO{Chip: "gpiochip0", LoadLine: 17, LedLine: 27, ReferenceLine: 22, TempEnableLine: 23}

func TestBootScript_DrivesEveryLineLow(t *testing.T) {
	script := BootScript(testGPIO)

	assert.Contains(t, script, "#!/bin/bash\n")
	for _, want := range []string{"gpioset gpiochip0 17=0", "gpioset gpiochip0 27=0", "gpioset gpiochip0 22=0", "gpioset gpiochip0 23=0"} {
		assert.Contains(t, script, want)
	}
}

func TestMainUnit(t *testing.T) {
	unit := MainUnit(Options{BinaryPath: "/usr/local/bin/cell-module", ConfigFile: "/etc/cell-module.yaml", User: "bms", WorkingDir: "/var/lib/cell-module"})

	assert.Contains(t, unit, "ExecStart=/usr/local/bin/cell-module --config /etc/cell-module.yaml\n")
	assert.Contains(t, unit, "Requires="+BootUnitName)
	assert.Contains(t, unit, "Restart=on-failure")
	assert.Contains(t, unit, "User=bms")
}

func TestInstall(t *testing.T) {
	dir := t.TempDir()
	opts := Options{BinaryPath: "/usr/local/bin/cell-module", User: "bms", WorkingDir: dir, ScriptPath: filepath.Join(dir, "cell-gpio.sh")}

	require.NoError(t, Install(dir, testGPIO, opts))

	script, err := os.ReadFile(opts.ScriptPath)
	require.NoError(t, err)
	assert.Equal(t, BootScript(testGPIO), string(script))

	info, err := os.Stat(opts.ScriptPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100, "script is executable")

	boot, err := os.ReadFile(filepath.Join(dir, BootUnitName))
	require.NoError(t, err)
	assert.Contains(t, string(boot), "ExecStart="+opts.ScriptPath)

	service, err := os.ReadFile(filepath.Join(dir, MainUnitName))
	require.NoError(t, err)
	assert.Equal(t, MainUnit(opts), string(service))
}

func TestInstall_RequiresBinary(t *testing.T) {
	assert.Error(t, Install(t.TempDir(), testGPIO, Options{}))
}
