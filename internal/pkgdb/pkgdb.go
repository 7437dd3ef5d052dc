// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pkgdb serves installed-package metadata from a YAML manifest. On
// a full platform this information would come from the package manager;
// here the manifest is the source of truth and reloads produce the
// equivalent install and remove events.
package pkgdb

import (
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"grimm.is/netperm/internal/errors"
	"grimm.is/netperm/internal/logging"
	"grimm.is/netperm/internal/netperm"
)

type manifest struct {
	Users    []int          `yaml:"users"`
	Packages []packageEntry `yaml:"packages"`
}

type packageEntry struct {
	Name      string `yaml:"name"`
	AppID     int    `yaml:"app_id"`
	Partition string `yaml:"partition"`
	TargetSDK int    `yaml:"target_sdk"`

	// Users restricts the entry to specific user profiles. Empty means
	// installed for every user in the manifest.
	Users []int `yaml:"users,omitempty"`

	Permissions []permissionEntry `yaml:"permissions,omitempty"`
}

type permissionEntry struct {
	Name    string `yaml:"name"`
	Granted *bool  `yaml:"granted,omitempty"` // defaults to true
}

// Change identifies one package install or removal produced by a reload.
type Change struct {
	Name string
	UID  int
}

// ChangeSet is the difference between two manifest versions, expressed as
// the package events the daemon must replay.
type ChangeSet struct {
	Added   []Change
	Removed []Change
}

// DB is a read-mostly view over the manifest. It satisfies the engine's
// package source and user registry interfaces.
type DB struct {
	logger *logging.Logger
	path   string

	mu sync.RWMutex
	m  manifest
}

// Load reads the manifest at path. A missing file is an empty database.
func Load(path string, logger *logging.Logger) (*DB, error) {
	db := &DB{logger: logger, path: path}
	m, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	db.m = *m
	return db, nil
}

func readManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &manifest{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "reading package manifest")
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "decoding package manifest")
	}
	if err := validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func validate(m *manifest) error {
	seen := make(map[string]struct{})
	for _, p := range m.Packages {
		if p.Name == "" {
			return errors.New(errors.KindValidation, "package entry without a name")
		}
		if _, dup := seen[p.Name]; dup {
			return errors.Errorf(errors.KindValidation, "duplicate package %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.AppID <= 0 || p.AppID >= netperm.PerUserRange {
			return errors.Errorf(errors.KindValidation,
				"package %q has app_id %d outside (0, %d)", p.Name, p.AppID, netperm.PerUserRange)
		}
	}
	return nil
}

// Reload re-reads the manifest and returns the package-level changes between
// the old and new versions. The database already reflects the new manifest
// when Reload returns, so replaying the change set against the engine reads
// post-change state, which is what removal recomputation requires.
func (db *DB) Reload() (*ChangeSet, error) {
	next, err := readManifest(db.path)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	prev := db.m
	db.m = *next
	db.mu.Unlock()

	cs := diff(&prev, next)
	db.logger.Info("Package manifest reloaded",
		"path", db.path, "packages", len(next.Packages),
		"added", len(cs.Added), "removed", len(cs.Removed))
	return cs, nil
}

// diff expands each side to per-user (name, uid) pairs and compares.
func diff(prev, next *manifest) *ChangeSet {
	prevSet := expand(prev)
	nextSet := expand(next)

	cs := &ChangeSet{}
	for key := range prevSet {
		if _, ok := nextSet[key]; !ok {
			cs.Removed = append(cs.Removed, key)
		}
	}
	for key := range nextSet {
		if _, ok := prevSet[key]; !ok {
			cs.Added = append(cs.Added, key)
		}
	}
	sort.Slice(cs.Added, func(i, j int) bool { return less(cs.Added[i], cs.Added[j]) })
	sort.Slice(cs.Removed, func(i, j int) bool { return less(cs.Removed[i], cs.Removed[j]) })
	return cs
}

func less(a, b Change) bool {
	if a.UID != b.UID {
		return a.UID < b.UID
	}
	return a.Name < b.Name
}

func expand(m *manifest) map[Change]struct{} {
	out := make(map[Change]struct{})
	for _, p := range m.Packages {
		for _, user := range entryUsers(m, &p) {
			out[Change{Name: p.Name, UID: netperm.UIDForUser(user, p.AppID)}] = struct{}{}
		}
	}
	return out
}

func entryUsers(m *manifest, p *packageEntry) []int {
	if len(p.Users) > 0 {
		return p.Users
	}
	return m.Users
}

// Users returns the active user profiles.
func (db *DB) Users() []int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]int(nil), db.m.Users...)
}

// InstalledPackages lists the package snapshots for one user, with per-user
// uids.
func (db *DB) InstalledPackages(user int) []*netperm.Package {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var pkgs []*netperm.Package
	for i := range db.m.Packages {
		p := &db.m.Packages[i]
		if !containsUser(entryUsers(&db.m, p), user) {
			continue
		}
		pkg := toPackage(p)
		pkg.UID = netperm.UIDForUser(user, p.AppID)
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

// PackagesForUid returns the names of all packages sharing uid's app-id.
func (db *DB) PackagesForUid(uid int) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	appID := netperm.AppID(uid)
	var names []string
	for i := range db.m.Packages {
		if db.m.Packages[i].AppID == appID {
			names = append(names, db.m.Packages[i].Name)
		}
	}
	sort.Strings(names)
	return names
}

// PackageInfo returns the snapshot for a named package, keyed by app-id, or
// nil when the manifest does not list it.
func (db *DB) PackageInfo(name string) *netperm.Package {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for i := range db.m.Packages {
		if db.m.Packages[i].Name == name {
			return toPackage(&db.m.Packages[i])
		}
	}
	return nil
}

func toPackage(p *packageEntry) *netperm.Package {
	pkg := &netperm.Package{
		Name:      p.Name,
		UID:       p.AppID,
		Partition: netperm.Partition(p.Partition),
		TargetSDK: p.TargetSDK,
	}
	if pkg.Partition == "" {
		pkg.Partition = netperm.PartitionSystem
	}
	for _, perm := range p.Permissions {
		pkg.Requested = append(pkg.Requested, perm.Name)
		pkg.Granted = append(pkg.Granted, perm.Granted == nil || *perm.Granted)
	}
	return pkg
}

func containsUser(users []int, user int) bool {
	for _, u := range users {
		if u == user {
			return true
		}
	}
	return false
}
