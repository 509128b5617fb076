// Package watch monitors the review report file and fans change
// notifications out to live viewer clients.
package watch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event types pushed to subscribers. A status event carries the current
// state of the report file when a client first connects; an update event
// signals that the file changed on disk.
const (
	EventStatus = "status"
	EventUpdate = "update"
)

// DefaultDebounce coalesces the burst of filesystem events an editor or
// report generator produces for a single logical save.
const DefaultDebounce = 250 * time.Millisecond

// Event describes the report file at a point in time.
type Event struct {
	Type    string     `json:"type"`
	Exists  bool       `json:"exists"`
	ModTime *time.Time `json:"mtime,omitempty"`
}

// Watcher watches the directory containing the report file and notifies
// subscribers when the file itself is written, created, renamed, or
// removed.
type Watcher struct {
	path     string
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu   sync.Mutex
	subs map[chan Event]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher prepares a watcher for the report at path. The parent
// directory must exist; the report file itself may not, removal and
// recreation are normal during report regeneration.
func NewWatcher(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		debounce: debounce,
		fs:       fs,
		subs:     make(map[chan Event]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Path returns the absolute path of the watched report file.
func (w *Watcher) Path() string {
	return w.path
}

// Start launches the event loop. Call Stop to shut it down.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop shuts the watcher down and closes all subscriber channels.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		close(ch)
	}
	w.subs = nil
	return err
}

// Subscribe registers a client. The returned channel immediately carries
// a status event describing the current file state, then an update event
// after each debounced change. The cancel func removes the subscription.
func (w *Watcher) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)

	w.mu.Lock()
	if w.subs == nil {
		close(ch)
		w.mu.Unlock()
		return ch, func() {}
	}
	w.subs[ch] = struct{}{}
	// The initial send happens under the lock so Stop cannot close ch
	// between registration and the send; the buffer keeps it non-blocking.
	ch <- w.Snapshot(EventStatus)
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.subs[ch]; ok {
			delete(w.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Snapshot stats the report file and builds an event of the given type.
func (w *Watcher) Snapshot(eventType string) Event {
	ev := Event{Type: eventType}
	info, err := os.Stat(w.path)
	if err != nil {
		return ev
	}
	ev.Exists = true
	mt := info.ModTime().UTC()
	ev.ModTime = &mt
	return ev
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !sameFile(event.Name, w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.broadcast(w.Snapshot(EventUpdate))

		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) broadcast(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- ev:
		default:
			// Slow client; it will resync from the next event.
		}
	}
}

func sameFile(a, b string) bool {
	aa, err := filepath.Abs(a)
	if err != nil {
		return false
	}
	return aa == b
}
