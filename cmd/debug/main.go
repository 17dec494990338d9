package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/thatsimonsguy/solar-pump-controller/db"
	"github.com/thatsimonsguy/solar-pump-controller/internal/config"
	"github.com/thatsimonsguy/solar-pump-controller/internal/pinctrl"
	"github.com/thatsimonsguy/solar-pump-controller/system/startup"
)

var readAllPins = pinctrl.ReadAllPins

func main() {
	os.Exit(DebugCLI(os.Args[1:], os.Stdout))
}

func DebugCLI(args []string, out io.Writer) int {
	var (
		dbPath, command, configFile string
		user, workdir, binary       string
		high, low                   float64
		minOff, minOn, maxOn        time.Duration
	)
	flags := flag.NewFlagSet("solar-pump-debug", flag.ContinueOnError)
	flags.SetOutput(out)
	flags.StringVar(&dbPath, "db", "data/solar-pump.db", "Path to the SQLite database file")
	flags.StringVar(&command, "cmd", "", "Command to run: show, set-thresholds, set-durations, install-service, pins")
	flags.Float64Var(&high, "high", 0, "High delta threshold for set-thresholds")
	flags.Float64Var(&low, "low", 0, "Low delta threshold for set-thresholds")
	flags.DurationVar(&minOff, "min-off", 0, "Minimum OFF duration for set-durations")
	flags.DurationVar(&minOn, "min-on", 0, "Minimum ON duration for set-durations")
	flags.DurationVar(&maxOn, "max-on", 0, "Maximum ON duration for set-durations")
	flags.StringVar(&configFile, "config-file", "config.json", "Controller config for install-service")
	flags.StringVar(&user, "user", "pi", "Service user for install-service")
	flags.StringVar(&workdir, "workdir", "/opt/solar-pump-controller", "Working directory for install-service")
	flags.StringVar(&binary, "binary", "/opt/solar-pump-controller/solar-pump-controller", "Controller binary for install-service")
	help := flags.Bool("help", false, "Show help")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *help || command == "" {
		fmt.Fprintln(out, "\nUsage of solar-pump-debug:")
		flags.PrintDefaults()
		return 0
	}

	var err error
	switch command {
	case "show":
		err = db.ShowSettingsCLI(dbPath, out)
	case "set-thresholds":
		err = db.SetThresholdsCLI(dbPath, high, low)
	case "set-durations":
		err = db.SetDurationsCLI(dbPath, minOff, minOn, maxOn)
	case "install-service":
		err = installService(configFile, startup.ServiceOptions{
			User:       user,
			WorkingDir: workdir,
			Binary:     binary,
			ConfigFile: configFile,
		})
	case "pins":
		err = showPins(out)
	default:
		fmt.Fprintln(out, "Invalid command")
		return 1
	}

	if err != nil {
		fmt.Fprintf(out, "Command %s failed: %v\n", command, err)
		return 1
	}
	fmt.Fprintf(out, "Command %s completed successfully\n", command)
	return 0
}

func installService(configFile string, opts startup.ServiceOptions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	cfg := config.LoadFile(configFile, "")
	if err := startup.WriteBootScript(cfg); err != nil {
		return err
	}
	if err := startup.InstallBootService(cfg); err != nil {
		return err
	}
	return startup.InstallControllerService(cfg, opts)
}

func showPins(out io.Writer) error {
	pins, err := readAllPins()
	if err != nil {
		return err
	}
	numbers := make([]int, 0, len(pins))
	for n := range pins {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	for _, n := range numbers {
		p := pins[n]
		fmt.Fprintf(out, "%2d: %s %s %s %s %s\n", n, p.Mode, p.Pull, p.Drive, p.Level, p.Comment)
	}
	return nil
}
