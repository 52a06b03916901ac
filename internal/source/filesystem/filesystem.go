// Package filesystem tails files and directory trees, emitting content deltas and
// lifecycle (created, removed, renamed) records.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"logram/internal/source"
	logx "logram/pkg/logx"
)

const (
	Name         = "filesystem"
	DefaultDelay = time.Second
)

type Config struct {
	// Delay is the coalescing window for raw watcher events on one path.
	Delay   time.Duration
	Entries []string
}

type Source struct {
	delay   time.Duration
	entries []string
	watcher *fsnotify.Watcher
	offsets *OffsetTable
	log     logx.Logger
}

// New scans every entry and registers watches. A missing entry is an error.
func New(cfg Config, log logx.Logger) (*Source, error) {
	if len(cfg.Entries) == 0 {
		return nil, errors.New("filesystem: no entries configured")
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filesystem: create watcher: %w", err)
	}
	s := &Source{
		delay:   cfg.Delay,
		watcher: w,
		offsets: NewOffsetTable(),
		log:     log.With(logx.Comp(Name)),
	}
	for _, e := range cfg.Entries {
		p, err := filepath.Abs(e)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("filesystem: resolve %q: %w", e, err)
		}
		if _, err := os.Stat(p); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("filesystem: %w", err)
		}
		if err := s.offsets.Scan(p); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("filesystem: scan %s: %w", p, err)
		}
		if err := s.watchTree(p); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("filesystem: watch %s: %w", p, err)
		}
		s.entries = append(s.entries, p)
	}
	s.log.Debug("filesystem watches registered",
		logx.Strings("entries", s.entries),
		logx.Int("files", s.offsets.Len()),
		logx.Int("watches", len(w.WatchList())),
	)
	return s, nil
}

func (s *Source) Name() string { return Name }

// pending is the coalesced state of one path inside the delay window.
type pending struct {
	op        fsnotify.Op
	renamedTo string
	deadline  time.Time
}

type lastRename struct {
	path string
	at   time.Time
	info os.FileInfo
}

// same reports whether path is the file that was renamed away. Without a
// recorded identity nothing matches.
func (r lastRename) same(path string) bool {
	if r.info == nil {
		return false
	}
	info, err := os.Lstat(path)
	return err == nil && os.SameFile(r.info, info)
}

func (s *Source) Run(ctx context.Context) <-chan source.Result {
	em := source.NewEmitter(Name, source.DefaultBuffer, s.log)
	go func() {
		defer em.Close()
		defer s.watcher.Close()
		s.loop(ctx, em)
	}()
	return em.C()
}

func (s *Source) loop(ctx context.Context, em *source.Emitter) {
	var (
		queue  = make(map[string]*pending)
		order  []string
		rename lastRename
	)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	armed := false

	arm := func() {
		if armed || len(order) == 0 {
			return
		}
		wait := time.Until(queue[order[0]].deadline)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
		armed = true
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			now := time.Now()
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) && rename.path != "" && now.Sub(rename.at) <= s.delay && rename.same(ev.Name) {
				if p, ok := queue[rename.path]; ok && p.op.Has(fsnotify.Rename) && p.renamedTo == "" {
					p.renamedTo = ev.Name
					s.track(ev.Name, false)
					rename = lastRename{}
					continue
				}
			}
			if ev.Has(fsnotify.Create) {
				s.track(ev.Name, true)
			}
			if ev.Has(fsnotify.Rename) {
				rename = lastRename{path: ev.Name, at: now, info: s.offsets.Identity(ev.Name)}
			}
			if ev.Has(fsnotify.Write) {
				if info, err := os.Stat(ev.Name); err == nil && info.Mode().IsRegular() {
					s.offsets.Observe(ev.Name, info.Size())
				}
			}
			p, ok := queue[ev.Name]
			if !ok {
				p = &pending{deadline: now.Add(s.delay)}
				queue[ev.Name] = p
				order = append(order, ev.Name)
			}
			p.op |= ev.Op
			arm()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			em.Error(fmt.Errorf("filesystem watcher: %w", err))

		case <-timer.C:
			armed = false
			now := time.Now()
			for len(order) > 0 {
				path := order[0]
				p := queue[path]
				if p.deadline.After(now) {
					break
				}
				order = order[1:]
				delete(queue, path)
				if rename.path == path {
					rename = lastRename{}
				}
				for _, r := range s.flush(path, p) {
					em.Emit(r)
				}
			}
			arm()
		}
	}
}

// track registers a path that just appeared. A new regular file starts at
// offset zero since all of its content is new; a directory or a rename
// destination is scanned at its current size.
func (s *Source) track(path string, fresh bool) {
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	s.offsets.Remember(path, info)
	if info.IsDir() {
		if err := s.offsets.Scan(path); err != nil {
			s.log.Warn("scan failed", logx.String("path", path), logx.Err(err))
		}
		if err := s.watchTree(path); err != nil {
			s.log.Warn("watch failed", logx.String("path", path), logx.Err(err))
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	if fresh {
		s.offsets.Set(path, 0)
		return
	}
	s.offsets.Set(path, info.Size())
}

func (s *Source) flush(path string, p *pending) []source.Result {
	var out []source.Result
	if p.renamedTo != "" {
		s.unwatch(path)
		s.offsets.Forget(path)
		out = append(out, source.Ok(source.Record{Title: fmt.Sprintf("%s was renamed to %s", path, p.renamedTo)}))
		return out
	}

	_, statErr := os.Lstat(path)
	exists := statErr == nil
	gone := p.op.Has(fsnotify.Remove) || p.op.Has(fsnotify.Rename)

	if p.op.Has(fsnotify.Create) {
		out = append(out, source.Ok(source.Record{Title: path + " was created"}))
	}
	if p.op.Has(fsnotify.Write) && exists {
		if r, ok := s.readWrite(path); ok {
			out = append(out, r)
		}
	}
	if gone && !exists {
		s.unwatch(path)
		s.offsets.Forget(path)
		out = append(out, source.Ok(source.Record{Title: path + " was removed"}))
	}
	return out
}

func (s *Source) readWrite(path string) (source.Result, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return source.Result{}, false
	}
	body, err := s.offsets.ReadDelta(path)
	if err != nil {
		return source.Fail(err), true
	}
	if body == "" {
		return source.Result{}, false
	}
	return source.Ok(source.Record{Title: path, Body: body}), true
}

// watchTree adds a watch on root and, when it is a directory, on every
// directory beneath it (fsnotify watches are not recursive).
func (s *Source) watchTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return s.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p != root {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := s.watcher.Add(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

func (s *Source) unwatch(path string) {
	prefix := path + string(filepath.Separator)
	for _, w := range s.watcher.WatchList() {
		if w == path || strings.HasPrefix(w, prefix) {
			// The kernel may have dropped the watch already.
			_ = s.watcher.Remove(w)
		}
	}
}
