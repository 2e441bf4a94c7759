package cachefs

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileEvent is the kind of filesystem change a ChangeNotifier observed.
type FileEvent int

const (
	EventUnknown FileEvent = iota
	EventAdded
	EventRemoved
	EventModified
	EventRenamed
)

// ChangeCallback receives one observed change. oldPath and newPath are
// absolute path strings; for a rename only oldPath is known (the create
// of the new name arrives as its own Added event). The callback runs on
// the notifier's goroutine and must not block on slow work.
type ChangeCallback func(oldPath, newPath string, event FileEvent)

// ChangeNotifier watches one root directory recursively and invokes its
// callback for every filesystem change the OS reports. It owns no
// knowledge of the cache.
type ChangeNotifier struct {
	root    string
	cb      ChangeCallback
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewChangeNotifier starts watching root (recursively) and dispatching
// events to cb on a background goroutine.
func NewChangeNotifier(root string, cb ChangeCallback) (*ChangeNotifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	n := &ChangeNotifier{
		root:    root,
		cb:      cb,
		watcher: w,
	}
	if err := n.addRecursive(root); err != nil {
		w.Close() //nolint:errcheck
		return nil, err
	}

	n.wg.Add(1)
	go n.run()

	sub("notifier").Debug("watching", "root", root)
	return n, nil
}

func (n *ChangeNotifier) run() {
	defer n.wg.Done()
	l := sub("notifier")

	for {
		select {
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}

			// Temp files from atomic writes are renamed away immediately;
			// reporting them would only churn the dirty set.
			if strings.HasSuffix(event.Name, ".cachefs-tmp") {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				// A created directory needs its own watch (no-op for files).
				n.watcher.Add(event.Name) //nolint:errcheck
				n.cb(event.Name, event.Name, EventAdded)
			case event.Has(fsnotify.Remove):
				n.cb(event.Name, event.Name, EventRemoved)
			case event.Has(fsnotify.Rename):
				// Only the old name is known; the new name shows up as
				// a separate Create event.
				n.cb(event.Name, "", EventRenamed)
			case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
				n.cb(event.Name, event.Name, EventModified)
			default:
				n.cb(event.Name, event.Name, EventUnknown)
			}

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			l.Warn("watch error", "root", n.root, "err", err)
		}
	}
}

// addRecursive adds root and all subdirectories to the watcher.
func (n *ChangeNotifier) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible dirs
		}
		if d.IsDir() {
			return n.watcher.Add(path)
		}
		return nil
	})
}

// Close stops the watcher and joins the dispatch goroutine before
// returning. No callback runs after Close returns.
func (n *ChangeNotifier) Close() error {
	err := n.watcher.Close()
	n.wg.Wait()
	return err
}
