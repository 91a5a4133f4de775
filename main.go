// ABOUTME: Entry point for the tapdeck dual-stream recorder
// ABOUTME: Records system and microphone audio to mono files, then merges them
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Tapdeck-Audio/tapdeck-go/internal/capture"
	"github.com/Tapdeck-Audio/tapdeck-go/internal/merge"
	"github.com/Tapdeck-Audio/tapdeck-go/internal/ui"
)

var (
	outDir     = flag.String("out", ".", "Output directory for recordings")
	rate       = flag.Float64("rate", 16000, "Target sample rate in Hz")
	backend    = flag.String("backend", "malgo", "Capture backend: malgo or portaudio")
	duration   = flag.Duration("duration", 0, "Stop automatically after this long (0 = manual)")
	autoMerge  = flag.Bool("auto-merge", true, "Merge the two recordings after stop")
	mergeA     = flag.String("merge-a", "", "Merge-only mode: left input file")
	mergeB     = flag.String("merge-b", "", "Merge-only mode: right input file")
	logFile    = flag.String("log-file", "tapdeck.log", "Log file path")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	// Merge-only mode: no capture, just combine two existing takes.
	if *mergeA != "" || *mergeB != "" {
		if *mergeA == "" || *mergeB == "" {
			log.Fatalf("merge mode needs both -merge-a and -merge-b")
		}
		stereo, mono, err := merge.Merge(context.Background(), *mergeA, *mergeB, *rate)
		if err != nil {
			log.Fatalf("merge failed: %v", err)
		}
		fmt.Printf("stereo: %s\nmono:   %s\n", stereo, mono)
		return
	}

	if err := record(useTUI); err != nil {
		log.Fatalf("%v", err)
	}
}

func record(useTUI bool) error {
	systemPath := filepath.Join(*outDir, "system.wav")
	micPath := filepath.Join(*outDir, "mic.wav")

	systemSrc, micSrc, cleanup, err := buildSources()
	if err != nil {
		return err
	}
	defer cleanup()

	systemSess := capture.NewSession(capture.Config{
		Source:     systemSrc,
		OutputPath: systemPath,
		TargetRate: *rate,
	})
	micSess := capture.NewSession(capture.Config{
		Source:     micSrc,
		OutputPath: micPath,
		TargetRate: *rate,
	})

	// The two sessions are independent; neither knows about the other
	// and they need not start at the same instant.
	if err := systemSess.Start(); err != nil {
		return fmt.Errorf("system capture: %w", err)
	}
	if err := micSess.Start(); err != nil {
		systemSess.Stop()
		return fmt.Errorf("mic capture: %w", err)
	}

	var tuiProg *tea.Program
	control := ui.NewControl()
	if useTUI {
		tuiProg, err = ui.Run(control)
		if err != nil {
			return fmt.Errorf("failed to start TUI: %w", err)
		}
		go tuiProg.Run()
		go statusLoop(tuiProg, systemSess, micSess)
	}

	waitForStop(control, *duration)

	// Stop drains each session's queue before the files close, so both
	// inputs are complete before the merge reads them.
	if err := systemSess.Stop(); err != nil {
		log.Printf("system stop: %v", err)
	}
	if err := micSess.Stop(); err != nil {
		log.Printf("mic stop: %v", err)
	}
	if tuiProg != nil {
		tuiProg.Quit()
	}

	if !*autoMerge {
		fmt.Printf("system: %s\nmic:    %s\n", systemPath, micPath)
		return nil
	}

	stereo, mono, err := merge.Merge(context.Background(), systemPath, micPath, *rate)
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}
	fmt.Printf("system: %s\nmic:    %s\nstereo: %s\nmono:   %s\n",
		systemPath, micPath, stereo, mono)
	return nil
}

// buildSources opens the system-audio and microphone sources for the
// selected backend. System audio uses the loopback mix; per-process taps
// come in through capture.TapSource when embedding.
func buildSources() (systemSrc, micSrc capture.Source, cleanup func(), err error) {
	switch *backend {
	case "malgo":
		loop, err := capture.NewMalgoDevice(true, 48000, 1)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("system source: %w", err)
		}
		mic, err := capture.NewMalgoDevice(false, 48000, 1)
		if err != nil {
			loop.Close()
			return nil, nil, nil, fmt.Errorf("mic source: %w", err)
		}
		return loop, mic, func() { mic.Close(); loop.Close() }, nil
	case "portaudio":
		// PortAudio has no loopback capture; both sessions record input
		// devices under this backend.
		mic, err := capture.NewPortAudioDevice(48000, 1)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("mic source: %w", err)
		}
		second, err := capture.NewPortAudioDevice(48000, 1)
		if err != nil {
			mic.Close()
			return nil, nil, nil, fmt.Errorf("system source: %w", err)
		}
		return second, mic, func() { mic.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown backend %q (supported: malgo, portaudio)", *backend)
	}
}

func waitForStop(control *ui.Control, limit time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if limit > 0 {
		timeout = time.After(limit)
	}

	select {
	case <-control.Stop:
		log.Printf("stop requested from TUI")
	case <-control.Quit:
		log.Printf("quit requested from TUI")
	case <-sigChan:
		log.Printf("shutdown signal received")
	case <-timeout:
		log.Printf("duration limit reached")
	}
}

// statusLoop pushes session snapshots into the TUI twice a second.
func statusLoop(prog *tea.Program, system, mic *capture.Session) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		prog.Send(ui.StatusMsg{
			Tap:    snapshot("system", system),
			Device: snapshot("mic", mic),
		})
		if !system.Running() && !mic.Running() {
			return
		}
	}
}

func snapshot(label string, s *capture.Session) ui.SessionStatus {
	stats := s.Stats()
	st := ui.SessionStatus{
		Label:    label,
		Path:     s.OutputPath(),
		Running:  s.Running(),
		Chunks:   stats.Chunks,
		Dropped:  stats.Dropped,
		Duration: stats.Duration,
	}
	if err := s.Err(); err != nil {
		st.Err = err.Error()
	}
	return st
}
