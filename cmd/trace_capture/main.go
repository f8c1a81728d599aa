package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"cmtrace/capture"
	"cmtrace/common"
	"cmtrace/internal/lister"
	"cmtrace/internal/pipeline"
	"cmtrace/internal/profile"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: trace_capture [options]\n\n")
		fmt.Fprintf(os.Stderr, "Captures ETM (or ITM/DWT) instruction trace between a start and a stop\n")
		fmt.Fprintf(os.Stderr, "address on the simulated probe and prints the raw and decoded trace.\n\n")
		pflag.PrintDefaults()
	}

	profilePath := pflag.StringP("profile", "p", "", "Capture profile (INI) to start from")
	probeName := pflag.String("probe", "sim", "Debug probe backend; sim is the only one built in")
	targetName := pflag.StringP("target", "t", "", "Target chip name")
	firmware := pflag.StringP("firmware", "f", "", "Firmware image to download before the capture")
	noFlash := pflag.Bool("no-flash", false, "Skip the firmware download")
	start := pflag.Uint64("start", 0, "PC of the start marker")
	stop := pflag.Uint64("stop", 0, "PC of the stop marker")
	source := pflag.String("source", "etm", "Trace source: etm or itm")
	window := pflag.DurationP("window", "w", 0, "Capture window")
	maxBytes := pflag.Int("max-bytes", 0, "Maximum bytes read back from the sink")
	noReset := pflag.Bool("no-reset", false, "Do not reset the core at the start of the window")
	formatted := pflag.Bool("formatted", false, "Enable the trace formatter")
	swo := pflag.Bool("swo", false, "Capture through the serial wire output instead of trace memory")
	simTrace := pflag.String("sim-trace", "", "File holding the trace the simulated target emits")
	stats := pflag.BoolP("stats", "s", false, "Print event statistics")
	noRaw := pflag.Bool("no-raw", false, "Do not print the raw trace")
	noTime := pflag.Bool("no_time_print", false, "Do not output elapsed time")
	logLevel := pflag.StringP("log-level", "l", "warning", "Log level: debug, info, warning or error")
	help := pflag.BoolP("help", "h", false, "Show this help message")
	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}

	if *probeName != "sim" {
		fmt.Printf("Trace Capture : Error: unknown probe %q\n", *probeName)
		os.Exit(1)
	}
	sev, err := common.ParseSeverity(*logLevel)
	if err != nil {
		fmt.Printf("Trace Capture : Error: %v\n", err)
		os.Exit(1)
	}
	logger := common.NewLogrusLogger(sev)

	cfg := pipeline.DefaultConfig()
	if *profilePath != "" {
		if cfg, err = profile.LoadFile(*profilePath); err != nil {
			fmt.Printf("Trace Capture : Error: %v\n", err)
			os.Exit(1)
		}
	}

	changed := func(name string) bool { return pflag.Lookup(name).Changed }
	if changed("target") {
		cfg.Target = *targetName
	}
	if changed("firmware") {
		cfg.Firmware = *firmware
	}
	if *noFlash {
		cfg.Firmware = ""
	}
	if changed("start") {
		cfg.Start = *start
	}
	if changed("stop") {
		cfg.Stop = *stop
	}
	if changed("source") {
		if cfg.Source, err = pipeline.ParseSource(*source); err != nil {
			fmt.Printf("Trace Capture : Error: %v\n", err)
			os.Exit(1)
		}
	}
	if changed("window") {
		cfg.Window = *window
	}
	if changed("max-bytes") {
		cfg.MaxBytes = *maxBytes
	}
	if *noReset {
		cfg.ResetTarget = false
	}
	if *swo {
		cfg.Sink = capture.ExternalPort(capture.PortNRZ, 1)
	}
	if *formatted {
		cfg.Sink.Formatted = true
	}

	lcfg := lister.Config{
		Pipeline:     cfg,
		Stats:        *stats,
		NoRawPrint:   *noRaw,
		NoTimePrint:  *noTime,
		OutputWriter: os.Stdout,
		Logger:       logger,
	}
	if *simTrace != "" {
		if lcfg.SimTrace, err = os.ReadFile(*simTrace); err != nil {
			fmt.Printf("Trace Capture : Error: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := lister.Run(ctx, lcfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
