// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

// Package bpf maintains the eBPF maps consulted by the traffic-controller
// programs: the per-app-id traffic permission map and the per-uid VPN
// isolation rule map. The programs themselves ship with the datapath; this
// backend only writes map entries.
package bpf

import (
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"

	"grimm.is/netperm/internal/errors"
	"grimm.is/netperm/internal/logging"
	"grimm.is/netperm/internal/netperm"
)

const (
	// DefaultPinDir is where the maps are pinned on bpffs.
	DefaultPinDir = "/sys/fs/bpf/netperm"

	trafficMapName = "traffic_permissions"
	vpnMapName     = "vpn_uid_rules"

	// ifaceNameLen matches the datapath's fixed-size interface name slot.
	ifaceNameLen = 16
)

// Backend owns the pinned maps.
type Backend struct {
	logger  *logging.Logger
	traffic *ebpf.Map
	vpn     *ebpf.Map
}

// New opens the pinned maps under pinDir, creating and pinning them when
// they do not exist yet. An empty pinDir means DefaultPinDir.
func New(pinDir string, logger *logging.Logger) (*Backend, error) {
	if pinDir == "" {
		pinDir = DefaultPinDir
	}
	if err := os.MkdirAll(pinDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "creating bpf pin directory")
	}

	traffic, err := openOrCreate(pinDir, trafficMapName, &ebpf.MapSpec{
		Name:       trafficMapName,
		Type:       ebpf.Hash,
		KeySize:    4, // app-id
		ValueSize:  4, // permission bits
		MaxEntries: 65536,
	})
	if err != nil {
		return nil, err
	}
	vpn, err := openOrCreate(pinDir, vpnMapName, &ebpf.MapSpec{
		Name:       vpnMapName,
		Type:       ebpf.Hash,
		KeySize:    4, // full uid
		ValueSize:  ifaceNameLen,
		MaxEntries: 65536,
	})
	if err != nil {
		traffic.Close()
		return nil, err
	}

	logger.Info("eBPF permission maps ready", "pin_dir", pinDir)
	return &Backend{logger: logger, traffic: traffic, vpn: vpn}, nil
}

func openOrCreate(pinDir, name string, spec *ebpf.MapSpec) (*ebpf.Map, error) {
	path := filepath.Join(pinDir, name)
	if m, err := ebpf.LoadPinnedMap(path, nil); err == nil {
		return m, nil
	}
	m, err := ebpf.NewMap(spec)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "creating map %s", name)
	}
	if err := m.Pin(path); err != nil {
		m.Close()
		return nil, errors.Wrapf(err, errors.KindUnavailable, "pinning map %s", name)
	}
	return m, nil
}

// SetTrafficPermission writes the permission bits for each app-id. The
// uninstalled tombstone is written like any other value; slots are never
// deleted.
func (b *Backend) SetTrafficPermission(bits netperm.TrafficPermission, appIDs []int) error {
	val := int32(bits)
	var errs []error
	for _, appID := range appIDs {
		key := uint32(appID)
		if err := b.traffic.Update(&key, &val, ebpf.UpdateAny); err != nil {
			errs = append(errs, errors.Wrapf(err, errors.KindUnavailable,
				"updating traffic permission for app id %d", appID))
		}
	}
	return stderrors.Join(errs...)
}

// AddUidInterfaceRules binds each uid to the tunnel interface.
func (b *Backend) AddUidInterfaceRules(iface string, uids []int) error {
	if len(iface) >= ifaceNameLen {
		return errors.Errorf(errors.KindValidation, "interface name %q too long", iface)
	}
	var val [ifaceNameLen]byte
	copy(val[:], iface)

	var errs []error
	for _, uid := range uids {
		key := uint32(uid)
		if err := b.vpn.Update(&key, &val, ebpf.UpdateAny); err != nil {
			errs = append(errs, errors.Wrapf(err, errors.KindUnavailable,
				"adding vpn rule for uid %d", uid))
		}
	}
	return stderrors.Join(errs...)
}

// RemoveUidInterfaceRules deletes the rule entries for the given uids.
// Missing entries are not an error.
func (b *Backend) RemoveUidInterfaceRules(uids []int) error {
	var errs []error
	for _, uid := range uids {
		key := uint32(uid)
		if err := b.vpn.Delete(&key); err != nil && !stderrors.Is(err, ebpf.ErrKeyNotExist) {
			errs = append(errs, errors.Wrapf(err, errors.KindUnavailable,
				"removing vpn rule for uid %d", uid))
		}
	}
	return stderrors.Join(errs...)
}

// Close releases the map handles. The pinned maps stay in bpffs.
func (b *Backend) Close() error {
	return stderrors.Join(b.traffic.Close(), b.vpn.Close())
}
