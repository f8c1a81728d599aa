package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"cmtrace/common"
	"cmtrace/internal/lister"
	"cmtrace/internal/pipeline"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: trc_decode [options] <raw trace file>\n\n")
		fmt.Fprintf(os.Stderr, "Decodes a raw ETMv4 or ITM/DWT trace dump.\n\n")
		pflag.PrintDefaults()
	}

	source := pflag.String("source", "etm", "Trace source that produced the dump: etm or itm")
	formatted := pflag.Bool("formatted", false, "The dump holds CoreSight formatter frames")
	traceID := pflag.Uint8("trace-id", 1, "Trace source ID")
	prescale := pflag.Uint32("ts-prescale", 1, "ITM local timestamp prescaler: 1, 4, 16 or 64")
	stats := pflag.BoolP("stats", "s", false, "Print event statistics")
	logLevel := pflag.StringP("log-level", "l", "warning", "Log level: debug, info, warning or error")
	help := pflag.BoolP("help", "h", false, "Show this help message")
	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}
	if pflag.NArg() != 1 {
		fmt.Println("Trace Decode : Error: Missing raw trace file")
		pflag.Usage()
		os.Exit(1)
	}

	sev, err := common.ParseSeverity(*logLevel)
	if err != nil {
		fmt.Printf("Trace Decode : Error: %v\n", err)
		os.Exit(1)
	}

	src, err := pipeline.ParseSource(*source)
	if err != nil {
		fmt.Printf("Trace Decode : Error: %v\n", err)
		os.Exit(1)
	}

	cfg := lister.DecodeConfig{
		Input:        pflag.Arg(0),
		Source:       src,
		Formatted:    *formatted,
		TraceID:      *traceID,
		TSPrescale:   *prescale,
		Stats:        *stats,
		OutputWriter: os.Stdout,
		Logger:       common.NewLogrusLogger(sev),
	}
	if err := lister.Decode(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
