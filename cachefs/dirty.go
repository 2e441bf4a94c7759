package cachefs

import (
	"strings"
	"sync"
)

// dirtySet tracks FilePaths touched by an external notification but not
// yet reconciled against disk. It has its own mutex so the notifier
// goroutine never contends with the metadata lock, and the lock is never
// held across disk I/O.
type dirtySet struct {
	mu  sync.Mutex
	set map[FilePath]struct{}
}

func newDirtySet() *dirtySet {
	return &dirtySet{set: make(map[FilePath]struct{})}
}

// Mark flags fp as possibly stale.
func (d *dirtySet) Mark(fp FilePath) {
	d.mu.Lock()
	d.set[fp] = struct{}{}
	d.mu.Unlock()
}

// Take removes fp and reports whether it was present. The removal is
// atomic with the check, so of any number of concurrent readers exactly
// one sees true and performs the refresh.
func (d *dirtySet) Take(fp FilePath) bool {
	d.mu.Lock()
	_, ok := d.set[fp]
	if ok {
		delete(d.set, fp)
	}
	d.mu.Unlock()
	return ok
}

// TakeDir removes and returns every entry whose relative path falls
// under relPrefix. relPrefix must be "" (everything) or end in "/", so
// "dir/" never matches a sibling "dir2/x".
func (d *dirtySet) TakeDir(relPrefix string) []FilePath {
	var taken []FilePath
	d.mu.Lock()
	for fp := range d.set {
		if relPrefix == "" || strings.HasPrefix(fp.RelativePath(), relPrefix) {
			taken = append(taken, fp)
		}
	}
	for _, fp := range taken {
		delete(d.set, fp)
	}
	d.mu.Unlock()
	return taken
}

// Len returns the number of pending entries.
func (d *dirtySet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.set)
}
