// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netperm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreUIDPresenceInvariant(t *testing.T) {
	s := NewStore()

	assert.Equal(t, PermissionNone, s.UIDPermission(10001), "absent uid reports NONE")

	s.SetUIDPermission(10001, PermissionNetwork)
	assert.Equal(t, PermissionNetwork, s.UIDPermission(10001))

	// Writing NONE removes the entry instead of storing a zero.
	s.SetUIDPermission(10001, PermissionNone)
	assert.Empty(t, s.SnapshotUIDs())
}

func TestStoreUIDsForUser(t *testing.T) {
	s := NewStore()
	s.SetUIDPermission(UIDForUser(0, 10001), PermissionNetwork)
	s.SetUIDPermission(UIDForUser(0, 10086), PermissionSystem)
	s.SetUIDPermission(UIDForUser(1, 10001), PermissionNetwork)

	assert.ElementsMatch(t, []int{10001, 10086}, s.UIDsForUser(0))
	assert.ElementsMatch(t, []int{UIDForUser(1, 10001)}, s.UIDsForUser(1))
	assert.Empty(t, s.UIDsForUser(7))
}

func TestStoreTrafficTombstoneRetained(t *testing.T) {
	s := NewStore()

	_, ok := s.TrafficPermission(10001)
	assert.False(t, ok)

	s.SetTrafficPermission(10001, TrafficInternet)
	bits, ok := s.TrafficPermission(10001)
	assert.True(t, ok)
	assert.Equal(t, TrafficInternet, bits)

	s.SetTrafficPermission(10001, TrafficUninstalled)
	bits, ok = s.TrafficPermission(10001)
	assert.True(t, ok, "tombstone keeps the entry")
	assert.Equal(t, TrafficUninstalled, bits)
}

func TestStoreAppTracking(t *testing.T) {
	s := NewStore()
	assert.False(t, s.HasApp(10001))

	s.AddApp(10001)
	s.AddApp(10086)
	assert.True(t, s.HasApp(10001))
	assert.ElementsMatch(t, []int{10001, 10086}, s.AppIDs())

	s.RemoveApp(10001)
	assert.False(t, s.HasApp(10001))
	assert.ElementsMatch(t, []int{10086}, s.AppIDs())
}

func TestStoreSnapshotsAreCopies(t *testing.T) {
	s := NewStore()
	s.SetUIDPermission(10001, PermissionNetwork)

	snap := s.SnapshotUIDs()
	snap[10001] = PermissionSystem
	assert.Equal(t, PermissionNetwork, s.UIDPermission(10001))
}
