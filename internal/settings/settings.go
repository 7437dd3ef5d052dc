// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package settings manages the dynamic restricted-network allow-list. The
// list lives in a small HCL file so an operator can edit it by hand; the API
// rewrites it through the same path.
package settings

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/netperm/internal/errors"
	"grimm.is/netperm/internal/logging"
)

type fileSchema struct {
	// AllowedUids is the full-uid set exempted from restricted-network
	// permission checks. Replaced wholesale on every change.
	AllowedUids []int `hcl:"allowed_uids,optional"`
}

// Store holds the current allow-list and notifies subscribers on change.
type Store struct {
	logger *logging.Logger
	path   string

	mu      sync.Mutex
	allowed map[int]struct{}
	subs    []func()
}

// Load reads the settings file at path. A missing file is an empty list.
func Load(path string, logger *logging.Logger) (*Store, error) {
	s := &Store{
		logger:  logger,
		path:    path,
		allowed: make(map[int]struct{}),
	}
	if err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) read() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "reading settings file")
	}
	var f fileSchema
	if err := hclsimple.Decode(s.path, data, nil, &f); err != nil {
		return errors.Wrap(err, errors.KindValidation, "decoding settings file")
	}
	allowed := make(map[int]struct{}, len(f.AllowedUids))
	for _, uid := range f.AllowedUids {
		if uid < 0 {
			return errors.Errorf(errors.KindValidation, "negative uid %d in allow-list", uid)
		}
		allowed[uid] = struct{}{}
	}
	s.mu.Lock()
	s.allowed = allowed
	s.mu.Unlock()
	return nil
}

// AllowedUids returns a copy of the current allow-list.
func (s *Store) AllowedUids() map[int]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]struct{}, len(s.allowed))
	for uid := range s.allowed {
		out[uid] = struct{}{}
	}
	return out
}

// Subscribe registers a callback fired after every change to the list.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.Lock()
	subs := append([]func(){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// Reload re-reads the file and notifies subscribers. Used on SIGHUP.
func (s *Store) Reload() error {
	if err := s.read(); err != nil {
		return err
	}
	s.logger.Info("Settings reloaded", "path", s.path, "allowed_uids", s.count())
	s.notify()
	return nil
}

// SetAllowedUids replaces the list, persists it, and notifies subscribers.
// The previous list is fully superseded; there is no merge.
func (s *Store) SetAllowedUids(uids []int) error {
	allowed := make(map[int]struct{}, len(uids))
	for _, uid := range uids {
		if uid < 0 {
			return errors.Errorf(errors.KindValidation, "negative uid %d in allow-list", uid)
		}
		allowed[uid] = struct{}{}
	}

	s.mu.Lock()
	s.allowed = allowed
	s.mu.Unlock()

	if err := s.write(); err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Store) write() error {
	uids := s.sortedUids()
	vals := make([]cty.Value, len(uids))
	for i, uid := range uids {
		vals[i] = cty.NumberIntVal(int64(uid))
	}
	list := cty.ListValEmpty(cty.Number)
	if len(vals) > 0 {
		list = cty.ListVal(vals)
	}

	f := hclwrite.NewEmptyFile()
	f.Body().SetAttributeValue("allowed_uids", list)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, errors.KindInternal, "creating settings directory")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, f.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, errors.KindInternal, "writing settings file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, errors.KindInternal, "replacing settings file")
	}
	return nil
}

func (s *Store) sortedUids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	uids := make([]int, 0, len(s.allowed))
	for uid := range s.allowed {
		uids = append(uids, uid)
	}
	sort.Ints(uids)
	return uids
}

func (s *Store) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allowed)
}
