// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux
// +build !linux

package nft

import (
	"grimm.is/netperm/internal/errors"
	"grimm.is/netperm/internal/logging"
	"grimm.is/netperm/internal/netperm"
)

// Backend is unavailable off Linux.
type Backend struct{}

func New(logger *logging.Logger) (*Backend, error) {
	return nil, errors.New(errors.KindUnavailable, "nftables backend requires linux")
}

func (b *Backend) SetPermission(perm netperm.Permission, uids []int) error {
	return errors.New(errors.KindUnavailable, "nftables backend requires linux")
}

func (b *Backend) ClearPermission(uids []int) error {
	return errors.New(errors.KindUnavailable, "nftables backend requires linux")
}
