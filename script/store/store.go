// Package store persists motion scripts in a JSON state file and reloads them when the file
// changes.
package store

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/script"
)

// File is the on-disk layout of the state file.
type File struct {
	Autons map[string][]map[string]interface{} `json:"autons"`
	GPS    *config.Calibration                 `json:"gps,omitempty"`
}

// Contents are the decoded routines and the optional stored calibration. Routines that failed
// to decode are kept out of Routines and listed in Broken with their error.
type Contents struct {
	Routines    map[string][]script.Instruction
	Broken      map[string]error
	Calibration *config.Calibration
}

// Names returns the names of every routine in the file, broken ones included, in order.
func (c *Contents) Names() []string {
	names := append(lo.Keys(c.Routines), lo.Keys(c.Broken)...)
	sort.Strings(names)
	return names
}

// Err combines the decode errors of the broken routines.
func (c *Contents) Err() error {
	names := lo.Keys(c.Broken)
	sort.Strings(names)
	var err error
	for _, name := range names {
		err = multierr.Append(err, c.Broken[name])
	}
	return err
}

// Parse decodes a state file. A malformed routine is recorded in Broken and does not affect the
// others; only an unreadable file or an invalid calibration fails the whole file.
func Parse(r io.Reader) (*Contents, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "cannot parse state file")
	}
	contents := &Contents{
		Routines:    make(map[string][]script.Instruction, len(f.Autons)),
		Broken:      map[string]error{},
		Calibration: f.GPS,
	}
	for name, records := range f.Autons {
		insts, err := script.DecodeAll(records)
		if err != nil {
			contents.Broken[name] = errors.Wrapf(err, "routine %q", name)
			continue
		}
		contents.Routines[name] = insts
	}
	if f.GPS != nil {
		if err := f.GPS.Validate("gps"); err != nil {
			return nil, err
		}
	}
	return contents, nil
}

// ParseFile decodes the state file at path.
func ParseFile(path string) (*Contents, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return Parse(f)
}

// Store holds the routines of a state file.
type Store struct {
	path   string
	logger logging.Logger

	mu       sync.RWMutex
	contents *Contents
	onReload []func(*Contents)
	saveMu   sync.Mutex

	watchOnce               sync.Once
	watcher                 *fsnotify.Watcher
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// Open loads the state file at path.
func Open(path string, logger logging.Logger) (*Store, error) {
	contents, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	logger.Debugw("loaded routines", "path", path, "count", len(contents.Routines))
	s := &Store{path: path, logger: logger, contents: contents}
	s.logBroken(contents)
	return s, nil
}

func (s *Store) logBroken(contents *Contents) {
	for name, err := range contents.Broken {
		s.logger.Warnw("routine failed to load", "name", name, "error", err)
	}
}

// Contents returns the currently loaded contents. Callers must not modify them.
func (s *Store) Contents() *Contents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contents
}

// Routine returns the routine called name. A routine that failed to load is not returned.
func (s *Store) Routine(name string) ([]script.Instruction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	insts, ok := s.contents.Routines[name]
	return insts, ok
}

// RoutineError returns why the routine called name failed to load, or nil.
func (s *Store) RoutineError(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contents.Broken[name]
}

// Names returns the routine names in order, broken ones included.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contents.Names()
}

// Calibration returns the stored calibration, if any.
func (s *Store) Calibration() (config.Calibration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.contents.Calibration == nil {
		return config.Calibration{}, false
	}
	return *s.contents.Calibration, true
}

// OnReload registers f to be called with the new contents after every successful reload.
func (s *Store) OnReload(f func(*Contents)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, f)
}

// Reload re-reads the file. A file that fails to parse leaves the loaded routines in place.
func (s *Store) Reload() error {
	contents, err := ParseFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.contents = contents
	callbacks := append([]func(*Contents){}, s.onReload...)
	s.mu.Unlock()

	s.logger.Infow("reloaded routines", "path", s.path, "count", len(contents.Routines))
	s.logBroken(contents)
	for _, f := range callbacks {
		f(contents)
	}
	return nil
}

// SaveCalibration validates cal and writes it to the state file, leaving the routines untouched.
// The file is replaced atomically.
func (s *Store) SaveCalibration(cal config.Calibration) error {
	if err := cal.Validate("gps"); err != nil {
		return err
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	//nolint:gosec
	data, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrap(err, "cannot save calibration")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "cannot save calibration")
	}
	if raw == nil {
		raw = map[string]json.RawMessage{}
	}
	gps, err := json.Marshal(cal)
	if err != nil {
		return err
	}
	raw["gps"] = gps
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, out); err != nil {
		return errors.Wrap(err, "cannot save calibration")
	}

	s.mu.Lock()
	updated := *s.contents
	updated.Calibration = &cal
	s.contents = &updated
	s.mu.Unlock()
	s.logger.Infow("saved calibration", "path", s.path, "cpr", cal.CountsPerRadian, "cpi", cal.CountsPerInch)
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, os.Remove(tmp.Name()))
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Watch reloads the store whenever the file is written or replaced, until ctx is done or the
// store is closed.
func (s *Store) Watch(ctx context.Context) error {
	var err error
	s.watchOnce.Do(func() {
		err = s.watch(ctx)
	})
	return err
}

func (s *Store) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "cannot watch routines")
	}
	// watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return multierr.Combine(errors.Wrap(err, "cannot watch routines"), watcher.Close())
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.watcher = watcher
	s.cancel = cancel
	s.mu.Unlock()

	name := filepath.Clean(s.path)
	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Warnw("keeping previous routines", "path", s.path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warnw("routine watcher error", "error", err)
			}
		}
	}, s.activeBackgroundWorkers.Done)
	return nil
}

// Close stops watching.
func (s *Store) Close() error {
	s.mu.Lock()
	watcher, cancel := s.watcher, s.cancel
	s.mu.Unlock()
	if watcher == nil {
		return nil
	}
	cancel()
	err := watcher.Close()
	s.activeBackgroundWorkers.Wait()
	return err
}
