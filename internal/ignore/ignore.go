// Package ignore maintains the set of domains whose tabs are never read aloud.
package ignore

import (
	"bufio"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// List is a domain ignore list backed by a plain text file, one domain per
// line, '#' comments allowed. Matching is by host suffix, so "example.com"
// also ignores "docs.example.com".
type List struct {
	mu      sync.RWMutex
	domains map[string]struct{}

	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *log.Logger
}

// NewList loads the ignore file at path. A missing file yields an empty list.
func NewList(path string, logger *log.Logger) (*List, error) {
	if logger == nil {
		logger = log.Default()
	}

	l := &List{
		domains: make(map[string]struct{}),
		path:    path,
		done:    make(chan struct{}),
		logger:  logger,
	}

	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// IsIgnored reports whether the URL's host is covered by the list.
func (l *List) IsIgnored(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	for host != "" {
		if _, ok := l.domains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
	}
	return false
}

// Domains returns a sorted-insensitive copy of the current domain set.
func (l *List) Domains() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.domains))
	for d := range l.domains {
		out = append(out, d)
	}
	return out
}

// Watch reloads the list whenever the backing file changes. Call Close to
// stop watching.
func (l *List) Watch() error {
	if l.path == "" {
		return errors.New("ignore: no file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	l.watcher = watcher

	// Watch the directory; editors replace files with rename which drops a
	// direct file watch.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		_ = watcher.Close()
		l.watcher = nil
		return err
	}

	go func() {
		for {
			select {
			case <-l.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(l.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := l.reload(); err != nil {
					l.logger.Warn("failed to reload ignore list", "path", l.path, "error", err)
					continue
				}
				l.logger.Debug("ignore list reloaded", "path", l.path, "domains", len(l.domains))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("ignore list watch error", "error", err)
			}
		}
	}()

	return nil
}

// Close stops the file watcher.
func (l *List) Close() error {
	close(l.done)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func (l *List) reload() error {
	domains := make(map[string]struct{})

	if l.path != "" {
		f, err := os.Open(l.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err == nil {
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				domains[strings.ToLower(line)] = struct{}{}
			}
			scanErr := scanner.Err()
			_ = f.Close()
			if scanErr != nil {
				return scanErr
			}
		}
	}

	l.mu.Lock()
	l.domains = domains
	l.mu.Unlock()
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
