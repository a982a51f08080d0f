package downloader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyzr/mediagrab/common/logger"
)

// Janitor deletes leftovers in the download folder once they are old enough
type Janitor struct {
	dir    string
	maxAge time.Duration
	log    logger.Interface
}

// NewJanitor creates a janitor for dir
func NewJanitor(dir string, maxAge time.Duration, log logger.Interface) *Janitor {
	return &Janitor{dir: dir, maxAge: maxAge, log: log}
}

// Sweep removes files and scratch directories modified more than maxAge
// before now and returns how many entries were removed
func (j *Janitor) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read download folder: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= j.maxAge {
			continue
		}

		p := filepath.Join(j.dir, entry.Name())
		switch {
		case entry.IsDir() && strings.HasPrefix(entry.Name(), "segments_"):
			err = os.RemoveAll(p)
		case entry.Type().IsRegular():
			err = os.Remove(p)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		j.log.Info("download folder swept", "removed", removed, "max_age", j.maxAge.String())
	}
	return removed, errors.Join(errs...)
}
