// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netperm

import "grimm.is/netperm/internal/metrics"

// PackageSource supplies installed-package metadata. Implementations must
// degrade to empty results on failure rather than surfacing errors into the
// engine's control flow.
type PackageSource interface {
	// InstalledPackages lists the packages installed for one user profile,
	// with UID set to the per-user uid.
	InstalledPackages(user int) []*Package

	// PackagesForUid returns the names of all packages sharing the app-id
	// of uid, across users.
	PackagesForUid(uid int) []string

	// PackageInfo returns the snapshot for a named package, or nil when
	// unknown. The returned UID carries the app-id; callers derive per-user
	// uids as needed.
	PackageInfo(name string) *Package
}

// UserRegistry enumerates active user profiles.
type UserRegistry interface {
	Users() []int
}

// SettingsSource provides the dynamic restricted-network allow-list. The
// change signal carries no payload; the monitor re-reads the authoritative
// value itself.
type SettingsSource interface {
	// AllowedUids returns the full-uid set exempted from restricted-network
	// checks. Each call returns the current authoritative value.
	AllowedUids() map[int]struct{}

	// Subscribe registers a callback invoked after the setting changes.
	Subscribe(fn func())
}

// SystemConfigSource lists uids granted a permission by static system
// configuration rather than by a package declaration.
type SystemConfigSource interface {
	SystemPermissionUids(perm string) []int
}

// KernelBackend is the kernel network-permission table.
type KernelBackend interface {
	SetPermission(perm Permission, uids []int) error
	ClearPermission(uids []int) error
}

// TrafficBackend is the per-app-id eBPF traffic permission map.
type TrafficBackend interface {
	SetTrafficPermission(bits TrafficPermission, appIDs []int) error
}

// VpnBackend programs per-interface uid isolation rules.
type VpnBackend interface {
	AddUidInterfaceRules(iface string, uids []int) error
	RemoveUidInterfaceRules(uids []int) error
}

// Deps bundles the monitor's external collaborators.
type Deps struct {
	Packages     PackageSource
	Users        UserRegistry
	Settings     SettingsSource
	SystemConfig SystemConfigSource // optional
	Kernel       KernelBackend
	Traffic      TrafficBackend
	Vpn          VpnBackend
	Metrics      *metrics.Metrics // optional
}
