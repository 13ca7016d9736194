/*
Copyright 2026 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fed

import (
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ktncode/misskey-sub002/ap"
)

// BlockList is a list of blocked domains, reloaded when the file changes.
//
// A blocked domain blocks its subdomains too.
type BlockList struct {
	lock    sync.Mutex
	wg      sync.WaitGroup
	w       *fsnotify.Watcher
	domains map[string]struct{}
}

const blockListReloadDelay = time.Second * 5

// loadBlocklist reads a CSV file with a header row, where the first column is a domain.
func loadBlocklist(path string) (map[string]struct{}, error) {
	blockedDomains := make(map[string]struct{})

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := csv.NewReader(f)
	c.FieldsPerRecord = -1
	first := true
	for {
		r, err := c.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if first {
			first = false
			continue
		}

		if len(r) == 0 || r[0] == "" {
			continue
		}

		domain, err := ap.NormalizeHost(r[0])
		if err != nil {
			return nil, err
		}

		blockedDomains[domain] = struct{}{}
	}

	return blockedDomains, nil
}

// NewBlockList loads a block list and starts watching it for changes.
func NewBlockList(log *slog.Logger, path string) (*BlockList, error) {
	domains, err := loadBlocklist(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	absPath := filepath.Join(dir, filepath.Base(path))

	b := &BlockList{w: w, domains: domains}

	timer := time.NewTimer(math.MaxInt64)
	timer.Stop()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					timer.Stop()
					return
				}

				if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && event.Name == absPath {
					timer.Reset(blockListReloadDelay)
				}

			case err, ok := <-w.Errors:
				if !ok {
					timer.Stop()
					return
				}

				log.Warn("Failed to watch blocklist", "path", path, "error", err)

			case <-timer.C:
				newDomains, err := loadBlocklist(path)
				if err != nil {
					log.Warn("Failed to reload blocklist", "path", path, "error", err)
					continue
				}

				b.lock.Lock()
				// the file might have been opened with O_TRUNC and not written yet
				if len(b.domains) > 0 && len(newDomains) == 0 {
					b.lock.Unlock()
					log.Warn("New blocklist is empty")
					continue
				}
				b.domains = newDomains
				b.lock.Unlock()

				log.Info("Reloaded blocklist", "path", path, "length", len(newDomains))
			}
		}
	}()

	return b, nil
}

// Contains determines if a domain is blocked.
func (b *BlockList) Contains(domain string) bool {
	normalized, err := ap.NormalizeHost(domain)
	if err != nil {
		return false
	}

	// ports don't matter
	if host, _, err := net.SplitHostPort(normalized); err == nil {
		normalized = host
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	for {
		if _, contains := b.domains[normalized]; contains {
			return true
		}

		i := strings.IndexByte(normalized, '.')
		if i < 0 {
			return false
		}

		normalized = normalized[i+1:]
	}
}

// Close frees resources.
func (b *BlockList) Close() {
	if b.w == nil {
		return
	}

	b.w.Close()
	b.wg.Wait()
}
