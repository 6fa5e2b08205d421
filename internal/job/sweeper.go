package job

import (
	"os"
	"path/filepath"
	"time"

	"github.com/makeasinger/mediaforge/internal/logging"
)

// Sweeper is a belt-and-braces background pass that removes work
// directories older than MaxAge, on top of the scoped per-job release
// the Manager already performs on every exit path, per SPEC_FULL §4.12.
type Sweeper struct {
	Root     string
	Interval time.Duration
	MaxAge   time.Duration
	stop     chan struct{}
}

// NewSweeper constructs a Sweeper with sane defaults when interval/age
// are left zero.
func NewSweeper(root string, interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &Sweeper{Root: root, Interval: interval, MaxAge: maxAge, stop: make(chan struct{})}
}

// Run blocks, sweeping on every Interval tick until Stop is called.
func (s *Sweeper) Run() {
	log := logging.WithComponent("sweeper")
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.sweep(); err != nil {
				log.Warn().Err(err).Msg("sweep pass failed")
			}
		case <-s.stop:
			return
		}
	}
}

// Stop halts the sweeper's loop.
func (s *Sweeper) Stop() {
	close(s.stop)
}

func (s *Sweeper) sweep() error {
	log := logging.WithComponent("sweeper")
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := time.Now().Add(-s.MaxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.Root, e.Name())
			if err := os.RemoveAll(path); err != nil {
				log.Warn().Str("path", path).Err(err).Msg("failed to remove stale work directory")
				continue
			}
			log.Info().Str("path", path).Msg("removed stale work directory")
		}
	}
	return nil
}
