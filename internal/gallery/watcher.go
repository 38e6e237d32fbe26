package gallery

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the gallery directory for newly created image files and
// triggers index rebuilds. Bursts are collapsed with a leading-edge debounce:
// the first event fires immediately, events inside the window are dropped.
type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  func()

	fw   *fsnotify.Watcher
	done chan struct{}

	mu          sync.Mutex
	lastTrigger time.Time

	now func() time.Time // for tests
}

// NewWatcher creates a watcher for dir. trigger is invoked from the watcher
// goroutine; it must be safe to call concurrently and must not block.
func NewWatcher(dir string, debounce time.Duration, trigger func()) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		trigger:  trigger,
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins watching. Events are handled on a dedicated goroutine; the
// rebuild handoff happens through the trigger callback, which is expected to
// schedule work rather than run it inline.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.fw = fw

	go w.loop()
	log.Printf("Watching %s for new gallery images", w.dir)
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("Gallery watcher error: %v", err)
		}
	}
}

// handleEvent filters for image creation and applies the debounce.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) || !IsImageFile(event.Name) {
		return
	}

	w.mu.Lock()
	now := w.now()
	if now.Sub(w.lastTrigger) <= w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastTrigger = now
	w.mu.Unlock()

	log.Printf("New gallery image: %s", event.Name)
	w.trigger()
}

// Stop stops watching. Safe to call once after Start.
func (w *Watcher) Stop() {
	close(w.done)
	if w.fw != nil {
		_ = w.fw.Close()
	}
}
