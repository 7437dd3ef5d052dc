// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netperm

import "sort"

// State is a point-in-time copy of the engine's permission state, produced
// for the API and diagnostics. It is never used to drive enforcement.
type State struct {
	UIDs        map[int]Permission        `json:"uids"`
	Traffic     map[int]TrafficPermission `json:"traffic"`
	Vpn         map[string][]UidRange     `json:"vpn"`
	AllowedUids []int                     `json:"allowed_uids"`
	Users       []int                     `json:"users"`
}

// DumpState snapshots the current state. Safe to call from any goroutine.
func (m *Monitor) DumpState() State {
	m.stateMu.RLock()
	allowed := make([]int, 0, len(m.allowed))
	for uid := range m.allowed {
		allowed = append(allowed, uid)
	}
	users := make([]int, 0, len(m.users))
	for u := range m.users {
		users = append(users, u)
	}
	m.stateMu.RUnlock()
	sort.Ints(allowed)
	sort.Ints(users)

	return State{
		UIDs:        m.store.SnapshotUIDs(),
		Traffic:     m.store.SnapshotTraffic(),
		Vpn:         m.vpn.Snapshot(),
		AllowedUids: allowed,
		Users:       users,
	}
}
