// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netperm

import "sync"

// Store is the authoritative in-memory permission state. It keeps two
// deliberately separate keyspaces:
//
//   - uids: full per-user uid -> network permission level (kernel side).
//     Only uids with a level above NONE are present.
//   - appIDTraffic: app-id -> traffic bits (eBPF side), shared across users.
//     Entries persist as UNINSTALLED tombstones after removal.
//
// All mutation happens on the monitor's single event loop; the mutex only
// guards concurrent read access from the API dump paths.
type Store struct {
	mu           sync.RWMutex
	uids         map[int]Permission
	appIDTraffic map[int]TrafficPermission
	allApps      map[int]struct{} // app-ids with at least one installed package
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		uids:         make(map[int]Permission),
		appIDTraffic: make(map[int]TrafficPermission),
		allApps:      make(map[int]struct{}),
	}
}

// UIDPermission returns the stored level for a full uid. Absent uids report
// PermissionNone.
func (s *Store) UIDPermission(uid int) Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uids[uid]
}

// SetUIDPermission records the level for a uid; a NONE level removes the
// entry, keeping the presence invariant.
func (s *Store) SetUIDPermission(uid int, perm Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perm == PermissionNone {
		delete(s.uids, uid)
		return
	}
	s.uids[uid] = perm
}

// DeleteUID removes the kernel-side entry for a uid.
func (s *Store) DeleteUID(uid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uids, uid)
}

// UIDsForUser returns all tracked uids belonging to a user profile.
func (s *Store) UIDsForUser(user int) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var uids []int
	for uid := range s.uids {
		if UserID(uid) == user {
			uids = append(uids, uid)
		}
	}
	return uids
}

// TrafficPermission returns the stored traffic bits for an app-id and
// whether an entry (including a tombstone) exists.
func (s *Store) TrafficPermission(appID int) (TrafficPermission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bits, ok := s.appIDTraffic[appID]
	return bits, ok
}

// SetTrafficPermission records the traffic bits for an app-id. Tombstones
// are stored, not deleted: the eBPF map is keyed by fixed app-id slots.
func (s *Store) SetTrafficPermission(appID int, bits TrafficPermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appIDTraffic[appID] = bits
}

// AddApp marks an app-id as having at least one installed package.
func (s *Store) AddApp(appID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allApps[appID] = struct{}{}
}

// RemoveApp clears the installed marker for an app-id.
func (s *Store) RemoveApp(appID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allApps, appID)
}

// HasApp reports whether the app-id has at least one installed package.
func (s *Store) HasApp(appID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.allApps[appID]
	return ok
}

// AppIDs returns the installed app-id set.
func (s *Store) AppIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.allApps))
	for id := range s.allApps {
		ids = append(ids, id)
	}
	return ids
}

// SnapshotUIDs copies the kernel-side keyspace for dumps.
func (s *Store) SnapshotUIDs() map[int]Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]Permission, len(s.uids))
	for uid, p := range s.uids {
		out[uid] = p
	}
	return out
}

// SnapshotTraffic copies the eBPF-side keyspace for dumps.
func (s *Store) SnapshotTraffic() map[int]TrafficPermission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]TrafficPermission, len(s.appIDTraffic))
	for id, bits := range s.appIDTraffic {
		out[id] = bits
	}
	return out
}
