// Package launch runs external notification scripts for the two alarm
// conditions (low supply voltage, roof-relay transition), enforcing the
// three launch modes and preventing overlapping runs (spec §4.10).
package launch

import (
	"fmt"
	"log"
	"os/exec"
	"sync"

	"github.com/nasa-jpl/ema-gateway/internal/config"
)

// Launcher tracks, per configured script, whether it has ever run
// (mode Once) and whether a child is currently alive (mode Many), and
// spawns new children with os/exec the way the teacher's process
// boundaries work — a subprocess, not a goroutine, is the unit of
// isolation here (spec §5).
type Launcher struct {
	cfg    config.ScriptConfig
	logger *log.Logger

	mu        sync.Mutex
	everLaunched bool
	running      bool
}

// New builds a Launcher for one script.
func New(cfg config.ScriptConfig, logger *log.Logger) *Launcher {
	return &Launcher{cfg: cfg, logger: logger}
}

// Launch attempts to spawn the configured script with argv, honoring the
// configured mode. It returns immediately; exit status is logged only
// (spec §4.10), not surfaced to the caller.
func (l *Launcher) Launch(argv ...string) {
	switch l.cfg.Mode {
	case config.ScriptNever:
		return
	case config.ScriptOnce:
		l.mu.Lock()
		if l.everLaunched {
			l.mu.Unlock()
			return
		}
		l.everLaunched = true
		l.mu.Unlock()
	case config.ScriptMany:
		l.mu.Lock()
		if l.running {
			l.mu.Unlock()
			if l.logger != nil {
				l.logger.Printf("launch: %s already running, suppressing overlapping invocation", l.cfg.Path)
			}
			return
		}
		l.running = true
		l.mu.Unlock()
	}

	go l.run(argv)
}

func (l *Launcher) run(argv []string) {
	defer func() {
		if l.cfg.Mode == config.ScriptMany {
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
		}
	}()

	cmd := exec.Command(l.cfg.Path, argv...)
	err := cmd.Run()
	if l.logger == nil {
		return
	}
	if err != nil {
		l.logger.Printf("launch: %s exited with error: %v", l.cfg.Path, err)
		return
	}
	l.logger.Printf("launch: %s exited cleanly", l.cfg.Path)
}

// LowVoltageArgv builds the argv for the low-voltage alarm script: the
// sliding window's average voltage, its threshold, and the sample count
// that went into the average (spec S3 scenario: "-v 11.80 -t 12.00 -s 30").
func LowVoltageArgv(average, threshold float64, sampleCount int) []string {
	return []string{
		"-v", fmt.Sprintf("%.2f", average),
		"-t", fmt.Sprintf("%.2f", threshold),
		"-s", fmt.Sprintf("%d", sampleCount),
	}
}

// RoofArgv builds the argv for the roof-relay transition script: the
// relay status code and a short reason string.
func RoofArgv(statusCode byte, reason string) []string {
	return []string{"-c", string(statusCode), "-r", reason}
}
