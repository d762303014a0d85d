package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// MetaWatcher reports writes to the editor metadata file so a waiting
// reconnect loop can retry before its backoff expires.
type MetaWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	onErr   func(error)
	changes chan struct{}
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	// watched is only touched by the constructor and loop.
	watched map[string]struct{}
}

// NewMetaWatcher watches projectRoot and every directory on the way to its
// metadata directories. Directories created later are picked up as they
// appear, so an editor that creates its metadata tree after the watcher
// starts is still seen. Watch failures are passed to onErr, which may be nil.
func NewMetaWatcher(projectRoot string, onErr func(error)) (*MetaWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(projectRoot); err != nil {
		_ = w.Close()
		return nil, err
	}
	if onErr == nil {
		onErr = func(error) {}
	}
	mw := &MetaWatcher{
		root:    projectRoot,
		watcher: w,
		onErr:   onErr,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
		watched: map[string]struct{}{projectRoot: {}},
	}
	mw.watchExisting()
	mw.wg.Add(1)
	go mw.loop()
	return mw, nil
}

// Changes receives one value per burst of relevant filesystem events.
func (m *MetaWatcher) Changes() <-chan struct{} {
	return m.changes
}

func (m *MetaWatcher) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		err = m.watcher.Close()
		m.wg.Wait()
	})
	return err
}

// metaChain lists every directory between the project root and each
// metadata directory, parents before children.
func metaChain(projectRoot string) []string {
	return []string{
		filepath.Join(projectRoot, ".godot"),
		filepath.Join(projectRoot, ".godot", "mono"),
		filepath.Join(projectRoot, ".godot", "mono", "metadata"),
		filepath.Join(projectRoot, ".mono"),
		filepath.Join(projectRoot, ".mono", "metadata"),
	}
}

// watchExisting adds every chain directory that exists and is not yet
// watched. It reports whether anything new was added.
func (m *MetaWatcher) watchExisting() bool {
	added := false
	for _, dir := range metaChain(m.root) {
		if _, ok := m.watched[dir]; ok {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := m.watcher.Add(dir); err != nil {
			m.onErr(err)
			continue
		}
		m.watched[dir] = struct{}{}
		added = true
	}
	return added
}

func (m *MetaWatcher) signal() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func (m *MetaWatcher) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				// The kernel drops watches on removed directories.
				delete(m.watched, ev.Name)
			}
			// A directory created in one step with its children may already
			// hold the metadata file by the time it is watched.
			if ev.Has(fsnotify.Create) && m.watchExisting() {
				m.signal()
				continue
			}
			if relevantMetaEvent(ev) {
				m.signal()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.signal()
			}
			m.onErr(err)
		}
	}
}

func relevantMetaEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return filepath.Base(ev.Name) == MetaFileName
}
