// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netperm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func grantedPkg(name string, uid int, perms ...string) *Package {
	granted := make([]bool, len(perms))
	for i := range granted {
		granted[i] = true
	}
	return &Package{
		Name:      name,
		UID:       uid,
		Partition: PartitionSystem,
		TargetSDK: 30,
		Requested: perms,
		Granted:   granted,
	}
}

func TestHasPermission(t *testing.T) {
	c := &Classifier{FirstSDK: 30}

	assert.False(t, c.HasPermission(nil, PermInternet))

	p := &Package{Name: "app", UID: 10001}
	assert.False(t, c.HasPermission(p, PermInternet), "nil permission arrays")

	p.Requested = []string{PermInternet, PermUpdateDeviceStats}
	assert.False(t, c.HasPermission(p, PermInternet), "nil granted flags")

	p.Granted = []bool{true}
	assert.False(t, c.HasPermission(p, PermInternet), "mismatched array lengths")

	p.Granted = []bool{true, false}
	assert.True(t, c.HasPermission(p, PermInternet))
	assert.False(t, c.HasPermission(p, PermUpdateDeviceStats), "requested but not granted")
	assert.False(t, c.HasPermission(p, PermChangeNetworkState), "never requested")
}

func TestHasNetworkPermission(t *testing.T) {
	c := &Classifier{FirstSDK: 30}

	assert.True(t, c.HasNetworkPermission(grantedPkg("a", 10001, PermChangeNetworkState)))
	assert.False(t, c.HasNetworkPermission(grantedPkg("a", 10001)))
	assert.False(t, c.HasNetworkPermission(grantedPkg("a", 10001, PermUseRestrictedNetworks)),
		"restricted permission does not imply the coarse one")
}

func TestIsCarryoverPackage(t *testing.T) {
	tests := []struct {
		name      string
		firstSDK  int
		uid       int
		targetSDK int
		partition Partition
		want      bool
	}{
		{"legacy vendor app", 30, 10001, LegacySDK - 1, PartitionVendor, true},
		{"legacy oem app", 30, 10001, LegacySDK - 1, PartitionOEM, true},
		{"legacy product app", 30, 10001, LegacySDK - 1, PartitionProduct, true},
		{"legacy system-partition app", 30, 10001, LegacySDK - 1, PartitionSystem, false},
		{"current vendor app", 30, 10001, LegacySDK, PartitionVendor, false},
		{"system uid on legacy device", LegacySDK - 1, SystemAppID, 30, PartitionSystem, true},
		{"system uid, secondary user, legacy device", LegacySDK - 1, UIDForUser(10, SystemAppID), 30, PartitionSystem, true},
		{"system uid on current device", LegacySDK, SystemAppID, 30, PartitionSystem, false},
		{"current vendor app on legacy device", LegacySDK - 1, 10001, LegacySDK, PartitionVendor, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &Classifier{FirstSDK: tc.firstSDK}
			p := &Package{Name: "app", UID: tc.uid, Partition: tc.partition, TargetSDK: tc.targetSDK}
			assert.Equal(t, tc.want, c.IsCarryoverPackage(p))
		})
	}
}

func TestHasRestrictedNetworkPermission(t *testing.T) {
	c := &Classifier{FirstSDK: 30}
	none := map[int]struct{}{}

	assert.False(t, c.HasRestrictedNetworkPermission(grantedPkg("a", 10001), none))
	assert.False(t, c.HasRestrictedNetworkPermission(grantedPkg("a", 10001, PermChangeNetworkState), none))
	// The legacy CONNECTIVITY_INTERNAL permission carries no weight on its own.
	assert.False(t, c.HasRestrictedNetworkPermission(grantedPkg("a", 10001, PermConnectivityInternal), none))

	assert.True(t, c.HasRestrictedNetworkPermission(grantedPkg("a", 10001, PermUseRestrictedNetworks), none))
	assert.True(t, c.HasRestrictedNetworkPermission(grantedPkg("a", 10001, PermNetworkStack), none))
	assert.True(t, c.HasRestrictedNetworkPermission(grantedPkg("a", 10001, PermMainlineNetworkStack), none))

	allowed := map[int]struct{}{10001: {}}
	assert.True(t, c.HasRestrictedNetworkPermission(grantedPkg("a", 10001), allowed))
	assert.False(t, c.HasRestrictedNetworkPermission(grantedPkg("a", 10086), allowed),
		"allow-list membership is per uid")
	assert.False(t, c.HasRestrictedNetworkPermission(grantedPkg("a", UIDForUser(1, 10001)), allowed),
		"allow-list membership is per full uid, not app-id")
}

func TestPackagePermission(t *testing.T) {
	c := &Classifier{FirstSDK: 30}
	none := map[int]struct{}{}

	assert.Equal(t, PermissionNone, c.PackagePermission(grantedPkg("a", 10001), none))
	assert.Equal(t, PermissionNetwork, c.PackagePermission(grantedPkg("a", 10001, PermChangeNetworkState), none))
	assert.Equal(t, PermissionSystem, c.PackagePermission(grantedPkg("a", 10001, PermUseRestrictedNetworks), none))
	assert.Equal(t, PermissionSystem,
		c.PackagePermission(grantedPkg("a", 10001, PermChangeNetworkState, PermNetworkStack), none))
}

func TestUIDPermissionIsMaxOverSharedPackages(t *testing.T) {
	c := &Classifier{FirstSDK: 30}
	none := map[int]struct{}{}

	assert.Equal(t, PermissionNone, c.UIDPermission(nil, none))

	pkgs := []*Package{
		grantedPkg("a", 10001),
		grantedPkg("b", 10001, PermChangeNetworkState),
	}
	assert.Equal(t, PermissionNetwork, c.UIDPermission(pkgs, none))

	pkgs = append(pkgs, grantedPkg("c", 10001, PermNetworkStack))
	assert.Equal(t, PermissionSystem, c.UIDPermission(pkgs, none))
}

func TestTrafficPermissions(t *testing.T) {
	c := &Classifier{FirstSDK: 30}

	assert.Equal(t, TrafficNone, c.TrafficPermissions(grantedPkg("a", 10001)))
	assert.Equal(t, TrafficInternet, c.TrafficPermissions(grantedPkg("a", 10001, PermInternet)))
	assert.Equal(t, TrafficInternet|TrafficUpdateDeviceStats,
		c.TrafficPermissions(grantedPkg("a", 10001, PermInternet, PermUpdateDeviceStats)))
}

func TestAppIDTrafficPermission(t *testing.T) {
	c := &Classifier{FirstSDK: 30}

	assert.Equal(t, TrafficUninstalled, c.AppIDTrafficPermission(nil),
		"empty package set means uninstalled, not none")

	pkgs := []*Package{
		grantedPkg("a", 10001, PermInternet),
		grantedPkg("b", 10001, PermUpdateDeviceStats),
	}
	assert.Equal(t, TrafficInternet|TrafficUpdateDeviceStats, c.AppIDTrafficPermission(pkgs))
}

func TestIsHigherPermission(t *testing.T) {
	assert.True(t, IsHigherPermission(PermissionSystem, PermissionNetwork))
	assert.True(t, IsHigherPermission(PermissionNetwork, PermissionNone))
	assert.False(t, IsHigherPermission(PermissionNetwork, PermissionNetwork))
	assert.False(t, IsHigherPermission(PermissionNone, PermissionSystem))
}
