// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

// Package nft programs the kernel-side network permission table as nftables
// uid sets. Matching rules (for example "meta skuid @network_uids accept")
// are owned by the firewall policy; this backend only maintains the sets.
package nft

import (
	"encoding/binary"
	"sync"

	"github.com/google/nftables"

	"grimm.is/netperm/internal/errors"
	"grimm.is/netperm/internal/logging"
	"grimm.is/netperm/internal/netperm"
)

const tableName = "netperm"

var setNames = map[netperm.Permission]string{
	netperm.PermissionNetwork: "network_uids",
	netperm.PermissionSystem:  "system_uids",
}

// Backend maintains one nftables set per permission level. It keeps a local
// mirror of set membership so updates translate into exact element adds and
// deletes; the kernel is never queried.
type Backend struct {
	logger *logging.Logger

	mu     sync.Mutex
	table  *nftables.Table
	sets   map[netperm.Permission]*nftables.Set
	mirror map[int]netperm.Permission
}

// New ensures the table and sets exist and returns the backend.
func New(logger *logging.Logger) (*Backend, error) {
	b := &Backend{
		logger: logger,
		sets:   make(map[netperm.Permission]*nftables.Set),
		mirror: make(map[int]netperm.Permission),
	}

	conn, err := nftables.New()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "opening netlink connection")
	}
	b.table = conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyINet,
		Name:   tableName,
	})
	for perm, name := range setNames {
		set := &nftables.Set{
			Table:   b.table,
			Name:    name,
			KeyType: nftables.TypeInteger,
		}
		if err := conn.AddSet(set, nil); err != nil {
			return nil, errors.Wrapf(err, errors.KindUnavailable, "creating set %s", name)
		}
		b.sets[perm] = set
	}
	if err := conn.Flush(); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "committing table setup")
	}
	b.logger.Info("nftables permission sets ready", "table", tableName)
	return b, nil
}

// SetPermission moves the given uids to the set for perm, removing them from
// the set they were in before. The whole update commits as one batch.
func (b *Backend) SetPermission(perm netperm.Permission, uids []int) error {
	target, ok := b.sets[perm]
	if !ok {
		return errors.Errorf(errors.KindValidation, "no set for permission %s", perm)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nftables.New()
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "opening netlink connection")
	}

	dels := make(map[netperm.Permission][]nftables.SetElement)
	var adds []nftables.SetElement
	for _, uid := range uids {
		old, present := b.mirror[uid]
		if present && old == perm {
			continue
		}
		if present {
			dels[old] = append(dels[old], uidElement(uid))
		}
		adds = append(adds, uidElement(uid))
	}
	if len(adds) == 0 && len(dels) == 0 {
		return nil
	}

	for old, elems := range dels {
		if err := conn.SetDeleteElements(b.sets[old], elems); err != nil {
			return errors.Wrapf(err, errors.KindUnavailable, "staging deletes from %s", b.sets[old].Name)
		}
	}
	if err := conn.SetAddElements(target, adds); err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "staging adds to %s", target.Name)
	}
	if err := conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "committing %s update", target.Name)
	}

	for _, uid := range uids {
		b.mirror[uid] = perm
	}
	return nil
}

// ClearPermission removes the given uids from whichever set they are in.
func (b *Backend) ClearPermission(uids []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dels := make(map[netperm.Permission][]nftables.SetElement)
	for _, uid := range uids {
		if old, present := b.mirror[uid]; present {
			dels[old] = append(dels[old], uidElement(uid))
		}
	}
	if len(dels) == 0 {
		return nil
	}

	conn, err := nftables.New()
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "opening netlink connection")
	}
	for old, elems := range dels {
		if err := conn.SetDeleteElements(b.sets[old], elems); err != nil {
			return errors.Wrapf(err, errors.KindUnavailable, "staging deletes from %s", b.sets[old].Name)
		}
	}
	if err := conn.Flush(); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "committing permission clear")
	}

	for _, uid := range uids {
		delete(b.mirror, uid)
	}
	return nil
}

func uidElement(uid int) nftables.SetElement {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(uid))
	return nftables.SetElement{Key: key}
}
