package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thatsimonsguy/cell-balancer/db"
	"github.com/thatsimonsguy/cell-balancer/internal/config"
	"github.com/thatsimonsguy/cell-balancer/system/startup"
)

func main() {
	CellCLI()
}

func CellCLI() {
	var dbPath, command, configFile, unitDir string
	var service startup.Options
	var setpoint, threshold int
	var calibration float64
	flag.StringVar(&dbPath, "db", "data/cell-module.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: set-setpoint, set-threshold, set-calibration, show-counters, install-service")
	flag.IntVar(&setpoint, "setpoint", 0, "Bypass temperature setpoint in C")
	flag.IntVar(&threshold, "threshold", 0, "Bypass threshold in mV")
	flag.Float64Var(&calibration, "calibration", 0, "Voltage calibration factor")
	flag.StringVar(&configFile, "config", "", "Cell module config file, used by install-service")
	flag.StringVar(&unitDir, "unit-dir", "/etc/systemd/system", "Directory for systemd units")
	flag.StringVar(&service.BinaryPath, "binary", "/usr/local/bin/cell-module", "Path to the cell-module binary")
	flag.StringVar(&service.User, "user", "root", "User the service runs as")
	flag.StringVar(&service.WorkingDir, "workdir", "/var/lib/cell-module", "Service working directory")
	flag.StringVar(&service.ScriptPath, "script", "/usr/local/bin/cell-module-gpio.sh", "Path for the boot GPIO script")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of cellctl:")
		fmt.Println("  -db string\tPath to the SQLite database file (default 'data/cell-module.db')")
		fmt.Println("  -cmd string\tCommand to run: set-setpoint, set-threshold, set-calibration, show-counters, install-service")
		fmt.Println("  -setpoint int\tBypass temperature setpoint in C")
		fmt.Println("  -threshold int\tBypass threshold in mV")
		fmt.Println("  -calibration float\tVoltage calibration factor")
		fmt.Println("  -config string\tCell module config file, used by install-service")
		fmt.Println("  -unit-dir string\tDirectory for systemd units (default '/etc/systemd/system')")
		fmt.Println("  -binary string\tPath to the cell-module binary")
		fmt.Println("  -user string\tUser the service runs as")
		fmt.Println("  -workdir string\tService working directory")
		fmt.Println("  -script string\tPath for the boot GPIO script")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	var err error
	switch command {
	case "set-setpoint":
		err = db.SetSetpointCLI(dbPath, setpoint)
	case "set-threshold":
		if threshold < 0 || threshold > 65535 {
			fmt.Println("Error: threshold must be between 0 and 65535")
			os.Exit(1)
		}
		err = db.SetThresholdCLI(dbPath, uint16(threshold))
	case "set-calibration":
		err = db.SetCalibrationCLI(dbPath, calibration)
	case "show-counters":
		err = db.ShowCountersCLI(dbPath, os.Stdout)
	case "install-service":
		err = installService(configFile, unitDir, service)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}

func installService(configFile, unitDir string, opts startup.Options) error {
	var args []string
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	opts.ConfigFile = configFile
	return startup.Install(unitDir, cfg.GPIO, opts)
}
