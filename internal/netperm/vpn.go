// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netperm

import "sync"

// vpnTable tracks the active VPN uid ranges per tunnel interface. An
// interface with no remaining ranges has no entry at all.
type vpnTable struct {
	mu     sync.RWMutex
	ranges map[string][]UidRange
}

func newVpnTable() *vpnTable {
	return &vpnTable{ranges: make(map[string][]UidRange)}
}

// Get returns the active ranges for iface, or nil when the interface is not
// under any VPN.
func (t *vpnTable) Get(iface string) []UidRange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ranges, ok := t.ranges[iface]
	if !ok {
		return nil
	}
	out := make([]UidRange, len(ranges))
	copy(out, ranges)
	return out
}

// Add merges ranges into the interface entry, ignoring exact duplicates.
func (t *vpnTable) Add(iface string, ranges []UidRange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing := t.ranges[iface]
	for _, r := range ranges {
		if !containsRange(existing, r) {
			existing = append(existing, r)
		}
	}
	t.ranges[iface] = existing
}

// Remove deletes the given ranges from the interface entry and drops the
// entry entirely when nothing remains. Removing from an unknown interface
// is a no-op.
func (t *vpnTable) Remove(iface string, ranges []UidRange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing, ok := t.ranges[iface]
	if !ok {
		return
	}
	var remaining []UidRange
	for _, r := range existing {
		if !containsRange(ranges, r) {
			remaining = append(remaining, r)
		}
	}
	if len(remaining) == 0 {
		delete(t.ranges, iface)
		return
	}
	t.ranges[iface] = remaining
}

// Interfaces returns the interfaces currently under a VPN.
func (t *vpnTable) Interfaces() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.ranges))
	for iface := range t.ranges {
		out = append(out, iface)
	}
	return out
}

// Snapshot copies the whole table for dumps.
func (t *vpnTable) Snapshot() map[string][]UidRange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]UidRange, len(t.ranges))
	for iface, ranges := range t.ranges {
		cp := make([]UidRange, len(ranges))
		copy(cp, ranges)
		out[iface] = cp
	}
	return out
}

func containsRange(ranges []UidRange, r UidRange) bool {
	for _, x := range ranges {
		if x == r {
			return true
		}
	}
	return false
}

// intersectUids expands ranges against the installed app-id set: for every
// user profile a range spans, each installed app-id whose per-user uid falls
// inside the range is included.
func intersectUids(ranges []UidRange, appIDs []int) map[int]struct{} {
	uids := make(map[int]struct{})
	for _, r := range ranges {
		for user := UserID(r.Start); user <= UserID(r.Stop); user++ {
			for _, appID := range appIDs {
				uid := UIDForUser(user, appID)
				if r.Contains(uid) {
					uids[uid] = struct{}{}
				}
			}
		}
	}
	return uids
}
