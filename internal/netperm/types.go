// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netperm implements the per-UID network permission engine: a
// classifier from package metadata to permission state, an authoritative
// in-memory store keyed by uid and app-id, a VPN uid-range table, and a
// monitor that folds package/user/settings/VPN events into batched updates
// for the kernel and eBPF enforcement backends.
package netperm

import "fmt"

// PerUserRange is the size of the uid space reserved for each user profile.
// A full uid is userID*PerUserRange + appID.
const PerUserRange = 100000

// SystemAppID is the reserved app-id of the core system.
const SystemAppID = 1000

// LegacySDK is the first SDK version at which restricted-network access
// stopped being implicitly granted to pre-existing system and vendor apps.
// Devices that first shipped below this version keep the legacy grants.
const LegacySDK = 29

// AppID extracts the user-independent app identity from a full uid.
func AppID(uid int) int {
	return uid % PerUserRange
}

// UserID extracts the user profile index from a full uid.
func UserID(uid int) int {
	return uid / PerUserRange
}

// UIDForUser composes a full per-user uid from a user index and an app-id.
func UIDForUser(user, appID int) int {
	return user*PerUserRange + appID
}

// Permission is the ordered network permission level pushed to the kernel
// permission table. Higher values strictly imply more access.
type Permission int32

const (
	PermissionNone    Permission = 0
	PermissionNetwork Permission = 1
	PermissionSystem  Permission = 2
)

func (p Permission) String() string {
	switch p {
	case PermissionNetwork:
		return "NETWORK"
	case PermissionSystem:
		return "SYSTEM"
	default:
		return "NONE"
	}
}

// IsHigherPermission reports whether a strictly exceeds b.
func IsHigherPermission(a, b Permission) bool {
	return a > b
}

// TrafficPermission is the independent bit-flag permission pushed to the
// eBPF traffic accounting map, keyed by app-id. TrafficUninstalled is a
// tombstone value, distinct from TrafficNone: the map slot for an app-id is
// retained after the last package is removed.
type TrafficPermission int32

const (
	TrafficNone              TrafficPermission = 0
	TrafficInternet          TrafficPermission = 4
	TrafficUpdateDeviceStats TrafficPermission = 8
	TrafficUninstalled       TrafficPermission = -1
)

func (t TrafficPermission) String() string {
	if t == TrafficUninstalled {
		return "UNINSTALLED"
	}
	if t == TrafficNone {
		return "NONE"
	}
	s := ""
	if t&TrafficInternet != 0 {
		s = "INTERNET"
	}
	if t&TrafficUpdateDeviceStats != 0 {
		if s != "" {
			s += "|"
		}
		s += "UPDATE_DEVICE_STATS"
	}
	return s
}

// Partition identifies the filesystem origin of a package, used by the
// legacy carryover rules.
type Partition string

const (
	PartitionSystem  Partition = "system"
	PartitionVendor  Partition = "vendor"
	PartitionOEM     Partition = "oem"
	PartitionProduct Partition = "product"
	PartitionOther   Partition = "other"
)

// Permission identifiers a package may hold. The strings are opaque keys in
// the package manifest's granted-permission list.
const (
	PermChangeNetworkState    = "CHANGE_NETWORK_STATE"
	PermNetworkStack          = "NETWORK_STACK"
	PermMainlineNetworkStack  = "MAINLINE_NETWORK_STACK"
	PermUseRestrictedNetworks = "CONNECTIVITY_USE_RESTRICTED_NETWORKS"
	PermConnectivityInternal  = "CONNECTIVITY_INTERNAL"
	PermInternet              = "INTERNET"
	PermUpdateDeviceStats     = "UPDATE_DEVICE_STATS"
)

// Package is an immutable snapshot of an installed package's metadata,
// refreshed from the package source on install and update events.
type Package struct {
	Name      string
	UID       int
	Partition Partition
	TargetSDK int

	// Requested holds the permissions the package declares; Granted is the
	// parallel flag slice marking which of them are actually granted. A nil
	// or length-mismatched pair means "nothing granted", never an error.
	Requested []string
	Granted   []bool
}

// UidRange is an inclusive range of full uids.
type UidRange struct {
	Start int
	Stop  int
}

// RangeForUser returns the uid range covering one entire user profile.
func RangeForUser(user int) UidRange {
	return UidRange{Start: user * PerUserRange, Stop: (user+1)*PerUserRange - 1}
}

// Contains reports whether uid falls inside the range.
func (r UidRange) Contains(uid int) bool {
	return uid >= r.Start && uid <= r.Stop
}

func (r UidRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.Stop)
}

// rangesContain reports whether any range in the set contains uid.
func rangesContain(ranges []UidRange, uid int) bool {
	for _, r := range ranges {
		if r.Contains(uid) {
			return true
		}
	}
	return false
}
