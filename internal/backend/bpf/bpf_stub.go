// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux
// +build !linux

package bpf

import (
	"grimm.is/netperm/internal/errors"
	"grimm.is/netperm/internal/logging"
	"grimm.is/netperm/internal/netperm"
)

// DefaultPinDir is unused off Linux but kept so callers compile.
const DefaultPinDir = "/sys/fs/bpf/netperm"

// Backend is unavailable off Linux.
type Backend struct{}

func New(pinDir string, logger *logging.Logger) (*Backend, error) {
	return nil, errors.New(errors.KindUnavailable, "ebpf backend requires linux")
}

func (b *Backend) SetTrafficPermission(bits netperm.TrafficPermission, appIDs []int) error {
	return errors.New(errors.KindUnavailable, "ebpf backend requires linux")
}

func (b *Backend) AddUidInterfaceRules(iface string, uids []int) error {
	return errors.New(errors.KindUnavailable, "ebpf backend requires linux")
}

func (b *Backend) RemoveUidInterfaceRules(uids []int) error {
	return errors.New(errors.KindUnavailable, "ebpf backend requires linux")
}

func (b *Backend) Close() error { return nil }
