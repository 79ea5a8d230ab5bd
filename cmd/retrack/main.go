// Command retrack runs the offline 2-D retracker over a detection CSV:
// nearest-neighbor data association feeding one constant-velocity Kalman
// filter per object, with birth/death lifecycle and quality gates applied
// at finalization. Accepted trajectories are written as a kalmanized CSV
// and, optionally, into a SQLite database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/retrack/internal/detcsv"
	"github.com/banshee-data/retrack/internal/track"
)

var (
	input   = flag.String("input", "", "Detection CSV to retrack (required)")
	output  = flag.String("output", "", "Output CSV path (default: input with .kalmanized.csv suffix)")
	dbPath  = flag.String("db", "", "Optional SQLite database to record the run into")
	assign  = flag.String("assign", "greedy", "Association mode: greedy or optimal")
	verbose = flag.Bool("verbose", false, "Log per-object lifecycle events")
)

func main() {
	flag.Parse()

	if *input == "" {
		log.Fatal("-input is required")
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dataset, err := detcsv.ReadFile(*input)
	if err != nil {
		return err
	}
	log.Printf("read %d frames from %s (dt=%v)", len(dataset.Frames), *input, dataset.DT)

	cfg := track.DefaultConfig(dataset.DT)
	cfg.Assignment = track.AssignmentMode(*assign)
	cfg.Verbose = *verbose

	outPath := *output
	if outPath == "" {
		outPath = strings.TrimSuffix(*input, ".csv") + ".kalmanized.csv"
	}
	outFile, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	csvSink, err := track.NewCSVSink(outFile, dataset.DT)
	if err != nil {
		outFile.Close()
		return err
	}

	sink := track.Sink(csvSink)
	if *dbPath != "" {
		store, err := track.NewSQLiteStore(*dbPath, cfg)
		if err != nil {
			csvSink.Close()
			return err
		}
		log.Printf("recording run %s into %s", store.RunID(), *dbPath)
		sink = track.MultiSink{csvSink, store}
	}

	tracker, err := track.NewTracker(cfg, dataset.MetersToPixels, sink)
	if err != nil {
		sink.Close()
		return err
	}

	for _, frame := range dataset.Frames {
		if err := tracker.HandleFrame(frame.Number, frame.Observations); err != nil {
			tracker.Close()
			return err
		}
	}
	if err := tracker.Close(); err != nil {
		return err
	}

	_, accepted, rejected := tracker.Counts()
	log.Printf("wrote %s: %d trajectories accepted, %d rejected", outPath, accepted, rejected)
	return nil
}
