// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netperm

// Classifier derives permission state from package metadata. It is a pure
// computation over already-fetched snapshots; malformed metadata classifies
// as "not granted" rather than failing.
type Classifier struct {
	// FirstSDK is the SDK version the device first shipped with. Apps
	// running as the system app-id on devices that launched before
	// LegacySDK keep restricted-network access without declaring it.
	FirstSDK int
}

// HasPermission reports whether pkg holds perm: it must appear in the
// requested list and the parallel flags slice must mark it granted.
func (c *Classifier) HasPermission(pkg *Package, perm string) bool {
	if pkg == nil || pkg.Requested == nil || pkg.Granted == nil {
		return false
	}
	if len(pkg.Requested) != len(pkg.Granted) {
		return false
	}
	for i, name := range pkg.Requested {
		if name == perm {
			return pkg.Granted[i]
		}
	}
	return false
}

// HasNetworkPermission reports whether pkg holds the coarse
// network-state-change permission.
func (c *Classifier) HasNetworkPermission(pkg *Package) bool {
	return c.HasPermission(pkg, PermChangeNetworkState)
}

// IsVendorApp reports whether pkg was installed from a non-system partition.
// The oem and product partitions are treated as vendor for carryover
// purposes; they have no independent eligibility path.
func (c *Classifier) IsVendorApp(pkg *Package) bool {
	switch pkg.Partition {
	case PartitionVendor, PartitionOEM, PartitionProduct:
		return true
	}
	return false
}

// IsCarryoverPackage reports whether pkg predates the restricted-network
// policy tightening and keeps its legacy grant: vendor-partition apps
// targeting an SDK below the threshold, and system-app-id packages on
// devices that first shipped below the threshold.
func (c *Classifier) IsCarryoverPackage(pkg *Package) bool {
	if pkg == nil {
		return false
	}
	if pkg.TargetSDK < LegacySDK && c.IsVendorApp(pkg) {
		return true
	}
	return AppID(pkg.UID) == SystemAppID && c.FirstSDK < LegacySDK
}

// HasRestrictedNetworkPermission reports whether pkg may use restricted
// networks. allowed is the current snapshot of the dynamic allow-list,
// keyed by full uid.
func (c *Classifier) HasRestrictedNetworkPermission(pkg *Package, allowed map[int]struct{}) bool {
	if pkg == nil {
		return false
	}
	if c.IsCarryoverPackage(pkg) {
		return true
	}
	if _, ok := allowed[pkg.UID]; ok {
		return true
	}
	return c.HasPermission(pkg, PermUseRestrictedNetworks) ||
		c.HasPermission(pkg, PermNetworkStack) ||
		c.HasPermission(pkg, PermMainlineNetworkStack)
}

// PackagePermission returns the network permission level a single package
// justifies.
func (c *Classifier) PackagePermission(pkg *Package, allowed map[int]struct{}) Permission {
	if c.HasRestrictedNetworkPermission(pkg, allowed) {
		return PermissionSystem
	}
	if c.HasNetworkPermission(pkg) {
		return PermissionNetwork
	}
	return PermissionNone
}

// UIDPermission returns the maximum permission level over all packages
// sharing a uid. The caller passes the complete current package set;
// levels are never subtracted.
func (c *Classifier) UIDPermission(pkgs []*Package, allowed map[int]struct{}) Permission {
	perm := PermissionNone
	for _, pkg := range pkgs {
		if p := c.PackagePermission(pkg, allowed); IsHigherPermission(p, perm) {
			perm = p
		}
	}
	return perm
}

// TrafficPermissions returns the traffic bits a single package justifies.
func (c *Classifier) TrafficPermissions(pkg *Package) TrafficPermission {
	bits := TrafficNone
	if c.HasPermission(pkg, PermInternet) {
		bits |= TrafficInternet
	}
	if c.HasPermission(pkg, PermUpdateDeviceStats) {
		bits |= TrafficUpdateDeviceStats
	}
	return bits
}

// AppIDTrafficPermission returns the OR of traffic bits over all packages
// sharing an app-id, or the uninstalled tombstone when none remain.
func (c *Classifier) AppIDTrafficPermission(pkgs []*Package) TrafficPermission {
	if len(pkgs) == 0 {
		return TrafficUninstalled
	}
	bits := TrafficNone
	for _, pkg := range pkgs {
		bits |= c.TrafficPermissions(pkg)
	}
	return bits
}
