// Package access implements the host blocklist. The list lives in a
// plain text file, one host per line, and is reloaded automatically when
// the file changes.
package access

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var nopLogger = zap.NewNop()

// Blocklist answers "is this host blocked". The zero value blocks
// nothing; a nil *Blocklist is also usable and blocks nothing.
type Blocklist struct {
	logger  *zap.Logger
	file    string
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	hosts map[string]struct{}
}

// Load reads file and starts a watcher that reloads it on change.
// Lines are host names; empty lines and #-comments are skipped.
func Load(file string, logger *zap.Logger) (*Blocklist, error) {
	if logger == nil {
		logger = nopLogger
	}

	b := &Blocklist{
		logger: logger,
		file:   file,
	}
	if err := b.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create blocklist watcher: %w", err)
	}
	if err := watcher.Add(file); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch blocklist file: %w", err)
	}
	b.watcher = watcher
	go b.watch()
	return b, nil
}

func (b *Blocklist) reload() error {
	f, err := os.Open(b.file)
	if err != nil {
		return fmt.Errorf("failed to open blocklist: %w", err)
	}
	defer f.Close()

	hosts := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		hosts[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read blocklist: %w", err)
	}

	b.mu.Lock()
	b.hosts = hosts
	b.mu.Unlock()

	b.logger.Info("blocklist loaded", zap.String("file", b.file), zap.Int("hosts", len(hosts)))
	return nil
}

func (b *Blocklist) watch() {
	for {
		select {
		case e, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) {
				// A reload failure keeps the previous set.
				if err := b.reload(); err != nil {
					b.logger.Warn("blocklist reload failed", zap.Error(err))
				}
			}
			if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
				// Editors replace the file; re-add the path so future
				// writes keep being seen.
				_ = b.watcher.Add(b.file)
				if err := b.reload(); err != nil {
					b.logger.Warn("blocklist reload failed", zap.Error(err))
				}
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("blocklist watcher error", zap.Error(err))
		}
	}
}

// Blocked reports whether host is on the list. Matching is
// case-insensitive on the exact host.
func (b *Blocklist) Blocked(host string) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.hosts[strings.ToLower(host)]
	return ok
}

// Len returns the number of blocked hosts.
func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.hosts)
}

// Close stops the watcher.
func (b *Blocklist) Close() error {
	if b == nil || b.watcher == nil {
		return nil
	}
	return b.watcher.Close()
}
