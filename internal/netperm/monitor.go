// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netperm

import (
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/netperm/internal/errors"
	"grimm.is/netperm/internal/logging"
)

// Config controls monitor construction.
type Config struct {
	// FirstSDK is the device's first-shipped SDK version, driving the
	// legacy carryover rules.
	FirstSDK int

	// QueueSize bounds the serialized event queue. Zero means 64.
	QueueSize int
}

// Monitor is the synchronization engine. Every external event is funneled
// through a single consumer goroutine; the caller of the triggering entry
// point blocks until its event has run and receives any backend error.
// Backends are write-only: the monitor never reads them back to decide the
// next write, and it never rolls back in-memory state on a failed push.
type Monitor struct {
	logger     *logging.Logger
	deps       Deps
	classifier *Classifier
	store      *Store
	vpn        *vpnTable

	// Loop-owned state; stateMu only guards reads from the API paths.
	stateMu sync.RWMutex
	allowed map[int]struct{}
	users   map[int]struct{}

	tasks   chan *task
	stopCh  chan struct{}
	wg      sync.WaitGroup
	startMu sync.Mutex
	started bool
}

type task struct {
	id   string
	name string
	fn   func() error
	done chan error
}

// NewMonitor creates a monitor. Start must be called before events are
// delivered.
func NewMonitor(cfg Config, deps Deps, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 64
	}
	return &Monitor{
		logger:     logger,
		deps:       deps,
		classifier: &Classifier{FirstSDK: cfg.FirstSDK},
		store:      NewStore(),
		vpn:        newVpnTable(),
		allowed:    make(map[int]struct{}),
		users:      make(map[int]struct{}),
		tasks:      make(chan *task, queue),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the event loop, subscribes to settings changes, and runs
// the initial scan of all users and installed packages. The scan's backend
// errors are returned but leave the in-memory state at the intended target.
func (m *Monitor) Start() error {
	m.startMu.Lock()
	if m.started {
		m.startMu.Unlock()
		return errors.New(errors.KindConflict, "monitor already started")
	}
	m.started = true
	m.startMu.Unlock()

	m.wg.Add(1)
	go m.run()

	if m.deps.Settings != nil {
		m.deps.Settings.Subscribe(func() {
			if err := m.OnSettingChanged(); err != nil {
				m.logger.Warn("Allow-list resync failed", "error", err)
			}
		})
	}

	return m.submit("startup_scan", m.scanAll)
}

// Stop drains the loop. Events submitted after Stop fail.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	for {
		select {
		case t := <-m.tasks:
			m.observeQueueDepth()
			start := time.Now()
			err := t.fn()
			if err != nil {
				m.countFailure(t.name)
				m.logger.Warn("Event finished with backend errors",
					"event", t.name, "id", t.id, "error", err)
			} else {
				m.logger.Debug("Event processed",
					"event", t.name, "id", t.id, "elapsed", time.Since(start))
			}
			m.countEvent(t.name)
			t.done <- err
		case <-m.stopCh:
			return
		}
	}
}

// submit serializes fn onto the event loop and waits for completion.
func (m *Monitor) submit(name string, fn func() error) error {
	t := &task{
		id:   uuid.NewString(),
		name: name,
		fn:   fn,
		done: make(chan error, 1),
	}
	select {
	case m.tasks <- t:
	case <-m.stopCh:
		return errors.New(errors.KindUnavailable, "monitor stopped")
	}
	m.observeQueueDepth()
	select {
	case err := <-t.done:
		return err
	case <-m.stopCh:
		return errors.New(errors.KindUnavailable, "monitor stopped")
	}
}

func (m *Monitor) observeQueueDepth() {
	if m.deps.Metrics != nil {
		m.deps.Metrics.QueueDepth.Set(float64(len(m.tasks)))
	}
}

func (m *Monitor) countEvent(name string) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.EventsProcessed.WithLabelValues(name).Inc()
	}
}

func (m *Monitor) countFailure(name string) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.EventFailures.WithLabelValues(name).Inc()
	}
}

// OnPackageAdded folds a package install or update for one per-user uid.
func (m *Monitor) OnPackageAdded(name string, uid int) error {
	return m.submit("package_added", func() error {
		return m.handlePackageAdded(name, uid)
	})
}

// OnPackageRemoved folds a package removal for one per-user uid.
func (m *Monitor) OnPackageRemoved(name string, uid int) error {
	return m.submit("package_removed", func() error {
		return m.handlePackageRemoved(name, uid)
	})
}

// OnPackagesAvailable re-evaluates named packages that became visible again
// (for example after external storage attached), across all active users.
func (m *Monitor) OnPackagesAvailable(names []string) error {
	return m.submit("packages_available", func() error {
		return m.handlePackagesAvailable(names)
	})
}

// OnUserAdded pushes permission state for every package installed for the
// new user. Adding an already-active user is a no-op.
func (m *Monitor) OnUserAdded(user int) error {
	return m.submit("user_added", func() error {
		return m.handleUserAdded(user)
	})
}

// OnUserRemoved revokes the kernel entries of the removed user's uids. The
// app-id traffic entries stay, unless this was the last user, in which case
// they are tombstoned like a package removal.
func (m *Monitor) OnUserRemoved(user int) error {
	return m.submit("user_removed", func() error {
		return m.handleUserRemoved(user)
	})
}

// OnSettingChanged re-reads the restricted-network allow-list and
// recomputes every uid entering or leaving the set.
func (m *Monitor) OnSettingChanged() error {
	return m.submit("allowlist_changed", m.handleSettingChanged)
}

// OnVpnUidRangesAdded places ranges under VPN isolation for iface. vpnUid
// is the VPN app's own uid, which bypasses its own tunnel.
func (m *Monitor) OnVpnUidRangesAdded(iface string, ranges []UidRange, vpnUid int) error {
	return m.submit("vpn_ranges_added", func() error {
		return m.handleVpnRangesAdded(iface, ranges, vpnUid)
	})
}

// OnVpnUidRangesRemoved releases ranges from VPN isolation for iface.
func (m *Monitor) OnVpnUidRangesRemoved(iface string, ranges []UidRange, vpnUid int) error {
	return m.submit("vpn_ranges_removed", func() error {
		return m.handleVpnRangesRemoved(iface, ranges, vpnUid)
	})
}

// GetVpnUidRanges returns the active ranges for iface, nil when none.
func (m *Monitor) GetVpnUidRanges(iface string) []UidRange {
	return m.vpn.Get(iface)
}

// HasUseBackgroundNetworksPermission reports whether uid may use networks
// in the background: implied by either coarse network permission or
// restricted-network permission.
func (m *Monitor) HasUseBackgroundNetworksPermission(uid int) bool {
	return m.store.UIDPermission(uid) != PermissionNone
}

// event handlers, all running on the loop goroutine

func (m *Monitor) scanAll() error {
	allowed := make(map[int]struct{})
	if m.deps.Settings != nil {
		allowed = m.deps.Settings.AllowedUids()
	}
	users := make(map[int]struct{})
	if m.deps.Users != nil {
		for _, u := range m.deps.Users.Users() {
			users[u] = struct{}{}
		}
	}
	m.stateMu.Lock()
	m.allowed = allowed
	m.users = users
	m.stateMu.Unlock()

	kernelUpdates := make(map[int]Permission)
	traffic := make(map[int]TrafficPermission)
	for user := range users {
		for _, pkg := range m.deps.Packages.InstalledPackages(user) {
			appID := AppID(pkg.UID)
			m.store.AddApp(appID)
			if p := m.classifier.PackagePermission(pkg, allowed); IsHigherPermission(p, kernelUpdates[pkg.UID]) {
				kernelUpdates[pkg.UID] = p
			}
			bits, ok := traffic[appID]
			if !ok {
				bits = TrafficNone
			}
			traffic[appID] = bits | m.classifier.TrafficPermissions(pkg)
		}
	}

	// Static system configuration can grant traffic permissions to uids
	// that own no package at all.
	if m.deps.SystemConfig != nil {
		for _, uid := range m.deps.SystemConfig.SystemPermissionUids(PermInternet) {
			traffic[AppID(uid)] |= TrafficInternet
		}
		for _, uid := range m.deps.SystemConfig.SystemPermissionUids(PermUpdateDeviceStats) {
			traffic[AppID(uid)] |= TrafficUpdateDeviceStats
		}
	}

	for uid, perm := range kernelUpdates {
		if perm == PermissionNone {
			delete(kernelUpdates, uid)
			continue
		}
		m.store.SetUIDPermission(uid, perm)
	}
	for appID, bits := range traffic {
		m.store.SetTrafficPermission(appID, bits)
	}

	m.logger.Info("Initial permission scan complete",
		"users", len(users), "uids", len(kernelUpdates), "app_ids", len(traffic))

	return stderrors.Join(
		m.sendUidsNetworkPermission(kernelUpdates),
		m.sendAppIdsTrafficPermission(traffic),
	)
}

func (m *Monitor) handlePackageAdded(name string, uid int) error {
	// Rule ordering matters: the VPN bypass check reads the pre-update
	// permission state.
	vpnErr := m.updateVpnUid(uid, true)
	m.store.AddApp(AppID(uid))
	return stderrors.Join(vpnErr, m.syncUID(uid), m.syncTraffic(AppID(uid)))
}

func (m *Monitor) handlePackageRemoved(name string, uid int) error {
	vpnErr := m.updateVpnUid(uid, false)
	appID := AppID(uid)

	names := m.deps.Packages.PackagesForUid(uid)
	if len(names) == 0 {
		// Last package for this app-id anywhere: revoke the kernel entry
		// and leave an uninstalled tombstone in the traffic map.
		m.store.RemoveApp(appID)
		var kernelErr error
		if m.store.UIDPermission(uid) != PermissionNone {
			m.store.DeleteUID(uid)
			kernelErr = m.clearKernel([]int{uid})
		}
		var trafficErr error
		if bits, ok := m.store.TrafficPermission(appID); !ok || bits != TrafficUninstalled {
			m.store.SetTrafficPermission(appID, TrafficUninstalled)
			trafficErr = m.pushTraffic(TrafficUninstalled, []int{appID})
		}
		return stderrors.Join(vpnErr, kernelErr, trafficErr)
	}

	// Other packages still share the uid: recompute from the survivors,
	// never subtract.
	return stderrors.Join(vpnErr, m.syncUID(uid), m.syncTraffic(appID))
}

func (m *Monitor) handlePackagesAvailable(names []string) error {
	m.stateMu.RLock()
	users := make([]int, 0, len(m.users))
	for u := range m.users {
		users = append(users, u)
	}
	m.stateMu.RUnlock()
	sort.Ints(users)

	var errs []error
	for _, name := range names {
		pkg := m.deps.Packages.PackageInfo(name)
		if pkg == nil {
			continue
		}
		for _, user := range users {
			uid := UIDForUser(user, AppID(pkg.UID))
			errs = append(errs, m.handlePackageAdded(name, uid))
		}
	}
	return stderrors.Join(errs...)
}

func (m *Monitor) handleUserAdded(user int) error {
	m.stateMu.Lock()
	if _, ok := m.users[user]; ok {
		m.stateMu.Unlock()
		return nil
	}
	m.users[user] = struct{}{}
	allowed := m.allowed
	m.stateMu.Unlock()

	kernelUpdates := make(map[int]Permission)
	traffic := make(map[int]TrafficPermission)
	for _, pkg := range m.deps.Packages.InstalledPackages(user) {
		appID := AppID(pkg.UID)
		m.store.AddApp(appID)
		if p := m.classifier.PackagePermission(pkg, allowed); IsHigherPermission(p, kernelUpdates[pkg.UID]) {
			kernelUpdates[pkg.UID] = p
		}
		old, _ := m.store.TrafficPermission(appID)
		if old == TrafficUninstalled {
			old = TrafficNone
		}
		// Bits combine across packages sharing the app-id and across users.
		traffic[appID] |= old | m.classifier.TrafficPermissions(pkg)
	}

	for uid, perm := range kernelUpdates {
		if perm == PermissionNone {
			delete(kernelUpdates, uid)
			continue
		}
		m.store.SetUIDPermission(uid, perm)
	}
	// Push only the traffic entries that actually changed.
	for appID, bits := range traffic {
		if old, ok := m.store.TrafficPermission(appID); ok && old == bits {
			delete(traffic, appID)
			continue
		}
		m.store.SetTrafficPermission(appID, bits)
	}

	return stderrors.Join(
		m.sendUidsNetworkPermission(kernelUpdates),
		m.sendAppIdsTrafficPermission(traffic),
	)
}

func (m *Monitor) handleUserRemoved(user int) error {
	m.stateMu.Lock()
	if _, ok := m.users[user]; !ok {
		m.stateMu.Unlock()
		return nil
	}
	delete(m.users, user)
	lastUser := len(m.users) == 0
	m.stateMu.Unlock()

	uids := m.store.UIDsForUser(user)
	for _, uid := range uids {
		m.store.DeleteUID(uid)
	}
	var kernelErr error
	if len(uids) > 0 {
		kernelErr = m.clearKernel(uids)
	}

	// Traffic entries are keyed by app-id and survive as long as any user
	// still has the app installed. With no users left, tombstone them all.
	var trafficErr error
	if lastUser {
		appIDs := m.store.AppIDs()
		for _, appID := range appIDs {
			m.store.SetTrafficPermission(appID, TrafficUninstalled)
			m.store.RemoveApp(appID)
		}
		if len(appIDs) > 0 {
			trafficErr = m.pushTraffic(TrafficUninstalled, appIDs)
		}
	}
	return stderrors.Join(kernelErr, trafficErr)
}

func (m *Monitor) handleSettingChanged() error {
	newAllowed := m.deps.Settings.AllowedUids()

	m.stateMu.Lock()
	oldAllowed := m.allowed
	m.allowed = newAllowed
	m.stateMu.Unlock()

	// The new set is authoritative; only uids entering or leaving it can
	// change level, and each is recomputed against full classifier state.
	affected := make(map[int]struct{})
	for uid := range oldAllowed {
		if _, ok := newAllowed[uid]; !ok {
			affected[uid] = struct{}{}
		}
	}
	for uid := range newAllowed {
		if _, ok := oldAllowed[uid]; !ok {
			affected[uid] = struct{}{}
		}
	}

	kernelUpdates := make(map[int]Permission)
	var toClear []int
	for uid := range affected {
		pkgs := m.packagesForUser(uid)
		if len(pkgs) == 0 {
			continue
		}
		perm := m.classifier.UIDPermission(pkgs, newAllowed)
		old := m.store.UIDPermission(uid)
		if perm == old {
			continue
		}
		m.store.SetUIDPermission(uid, perm)
		if perm == PermissionNone {
			toClear = append(toClear, uid)
		} else {
			kernelUpdates[uid] = perm
		}
	}

	var clearErr error
	if len(toClear) > 0 {
		clearErr = m.clearKernel(toClear)
	}
	return stderrors.Join(m.sendUidsNetworkPermission(kernelUpdates), clearErr)
}

func (m *Monitor) handleVpnRangesAdded(iface string, ranges []UidRange, vpnUid int) error {
	existing := m.vpn.Get(iface)

	uidSet := intersectUids(ranges, m.store.AppIDs())
	delete(uidSet, vpnUid)
	for uid := range uidSet {
		// Restricted-capable apps bypass VPN isolation, and uids already
		// covered by an active range for this interface keep their rule.
		if m.store.UIDPermission(uid) == PermissionSystem || rangesContain(existing, uid) {
			delete(uidSet, uid)
		}
	}
	m.vpn.Add(iface, ranges)

	if len(uidSet) == 0 {
		return nil
	}
	uids := sortedKeys(uidSet)
	err := m.deps.Vpn.AddUidInterfaceRules(iface, uids)
	m.countBackend("vpn", "add_rules", len(uids), err)
	return errors.Wrapf(err, errors.KindUnavailable,
		"adding uid interface rules for %s", iface)
}

func (m *Monitor) handleVpnRangesRemoved(iface string, ranges []UidRange, vpnUid int) error {
	existing := m.vpn.Get(iface)
	if existing == nil {
		// Removal for an interface that was never added: keep the table
		// intact and emit nothing.
		return nil
	}

	m.vpn.Remove(iface, ranges)
	remaining := m.vpn.Get(iface)

	uidSet := intersectUids(ranges, m.store.AppIDs())
	delete(uidSet, vpnUid)
	for uid := range uidSet {
		// Release only uids not still covered by another active range.
		if m.store.UIDPermission(uid) == PermissionSystem || rangesContain(remaining, uid) {
			delete(uidSet, uid)
		}
	}

	if len(uidSet) == 0 {
		return nil
	}
	uids := sortedKeys(uidSet)
	err := m.deps.Vpn.RemoveUidInterfaceRules(uids)
	m.countBackend("vpn", "remove_rules", len(uids), err)
	return errors.Wrapf(err, errors.KindUnavailable,
		"removing uid interface rules for %s", iface)
}

// updateVpnUid applies or removes the isolation rule for a single uid that
// just appeared or disappeared, on every interface whose ranges cover it.
func (m *Monitor) updateVpnUid(uid int, add bool) error {
	var errs []error
	for iface, ranges := range m.vpn.Snapshot() {
		if !rangesContain(ranges, uid) {
			continue
		}
		if m.store.UIDPermission(uid) == PermissionSystem {
			continue
		}
		var err error
		if add {
			err = m.deps.Vpn.AddUidInterfaceRules(iface, []int{uid})
			m.countBackend("vpn", "add_rules", 1, err)
		} else {
			err = m.deps.Vpn.RemoveUidInterfaceRules([]int{uid})
			m.countBackend("vpn", "remove_rules", 1, err)
		}
		errs = append(errs, errors.Wrapf(err, errors.KindUnavailable,
			"updating vpn rules on %s for uid %d", iface, uid))
	}
	return stderrors.Join(errs...)
}

// recompute helpers

// packagesForUser lists the packages installed for uid's user that share its
// app-id. Kernel entries are per-user uids, so level recomputation must only
// see that user's installs; the snapshots already carry per-user uids, which
// keeps allow-list membership evaluated per (user, uid) pair.
func (m *Monitor) packagesForUser(uid int) []*Package {
	appID := AppID(uid)
	var pkgs []*Package
	for _, p := range m.deps.Packages.InstalledPackages(UserID(uid)) {
		if AppID(p.UID) == appID {
			pkgs = append(pkgs, p)
		}
	}
	return pkgs
}

// packagesWithAppID fetches every package sharing appID across all users.
// Traffic bits do not depend on the user binding.
func (m *Monitor) packagesWithAppID(appID int) []*Package {
	names := m.deps.Packages.PackagesForUid(appID)
	pkgs := make([]*Package, 0, len(names))
	for _, name := range names {
		if p := m.deps.Packages.PackageInfo(name); p != nil {
			pkgs = append(pkgs, p)
		}
	}
	return pkgs
}

func (m *Monitor) syncUID(uid int) error {
	m.stateMu.RLock()
	allowed := m.allowed
	m.stateMu.RUnlock()

	perm := m.classifier.UIDPermission(m.packagesForUser(uid), allowed)
	old := m.store.UIDPermission(uid)
	if perm == old {
		return nil
	}
	m.store.SetUIDPermission(uid, perm)
	if perm == PermissionNone {
		return m.clearKernel([]int{uid})
	}
	return m.sendUidsNetworkPermission(map[int]Permission{uid: perm})
}

func (m *Monitor) syncTraffic(appID int) error {
	bits := m.classifier.AppIDTrafficPermission(m.packagesWithAppID(appID))
	if old, ok := m.store.TrafficPermission(appID); ok && old == bits {
		return nil
	}
	m.store.SetTrafficPermission(appID, bits)
	return m.pushTraffic(bits, []int{appID})
}

// batched backend pushes

// sendUidsNetworkPermission groups uids by level and issues one kernel call
// per distinct permission value.
func (m *Monitor) sendUidsNetworkPermission(updates map[int]Permission) error {
	if len(updates) == 0 {
		return nil
	}
	byPerm := make(map[Permission][]int)
	for uid, perm := range updates {
		byPerm[perm] = append(byPerm[perm], uid)
	}
	var errs []error
	for perm, uids := range byPerm {
		sort.Ints(uids)
		err := m.deps.Kernel.SetPermission(perm, uids)
		m.countBackend("kernel", "set_permission", len(uids), err)
		errs = append(errs, errors.Wrapf(err, errors.KindUnavailable,
			"setting %s permission for %d uids", perm, len(uids)))
	}
	return stderrors.Join(errs...)
}

func (m *Monitor) clearKernel(uids []int) error {
	sort.Ints(uids)
	err := m.deps.Kernel.ClearPermission(uids)
	m.countBackend("kernel", "clear_permission", len(uids), err)
	return errors.Wrapf(err, errors.KindUnavailable,
		"clearing permission for %d uids", len(uids))
}

// sendAppIdsTrafficPermission groups app-ids by bit value and issues one
// map update per distinct value.
func (m *Monitor) sendAppIdsTrafficPermission(updates map[int]TrafficPermission) error {
	if len(updates) == 0 {
		return nil
	}
	byBits := make(map[TrafficPermission][]int)
	for appID, bits := range updates {
		byBits[bits] = append(byBits[bits], appID)
	}
	var errs []error
	for bits, appIDs := range byBits {
		errs = append(errs, m.pushTraffic(bits, appIDs))
	}
	return stderrors.Join(errs...)
}

func (m *Monitor) pushTraffic(bits TrafficPermission, appIDs []int) error {
	sort.Ints(appIDs)
	err := m.deps.Traffic.SetTrafficPermission(bits, appIDs)
	m.countBackend("traffic", "set_permission", len(appIDs), err)
	return errors.Wrapf(err, errors.KindUnavailable,
		"setting traffic permission %s for %d app ids", bits, len(appIDs))
}

func (m *Monitor) countBackend(backend, op string, batch int, err error) {
	if m.deps.Metrics == nil {
		return
	}
	m.deps.Metrics.BackendWrites.WithLabelValues(backend, op).Inc()
	m.deps.Metrics.BatchSize.Observe(float64(batch))
	if err != nil {
		m.deps.Metrics.BackendErrors.WithLabelValues(backend, op).Inc()
	}
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
