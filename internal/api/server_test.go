// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netperm/internal/logging"
	"grimm.is/netperm/internal/metrics"
	"grimm.is/netperm/internal/netperm"
	"grimm.is/netperm/internal/settings"
)

type staticPackages struct{ pkgs []*netperm.Package }

func (s *staticPackages) InstalledPackages(user int) []*netperm.Package {
	if user != 0 {
		return nil
	}
	return s.pkgs
}

func (s *staticPackages) PackagesForUid(uid int) []string {
	var names []string
	for _, p := range s.pkgs {
		if netperm.AppID(p.UID) == netperm.AppID(uid) {
			names = append(names, p.Name)
		}
	}
	return names
}

func (s *staticPackages) PackageInfo(name string) *netperm.Package {
	for _, p := range s.pkgs {
		if p.Name == name {
			return p
		}
	}
	return nil
}

type staticUsers struct{}

func (staticUsers) Users() []int { return []int{0} }

type nopBackend struct{}

func (nopBackend) SetPermission(netperm.Permission, []int) error               { return nil }
func (nopBackend) ClearPermission([]int) error                                 { return nil }
func (nopBackend) SetTrafficPermission(netperm.TrafficPermission, []int) error { return nil }
func (nopBackend) AddUidInterfaceRules(string, []int) error                    { return nil }
func (nopBackend) RemoveUidInterfaceRules([]int) error                         { return nil }

func newTestServer(t *testing.T) (*Server, *settings.Store) {
	t.Helper()
	logger := logging.New(logging.Config{Level: logging.LevelError})

	st, err := settings.Load(filepath.Join(t.TempDir(), "settings.hcl"), logger)
	require.NoError(t, err)

	pkgs := &staticPackages{pkgs: []*netperm.Package{
		{
			Name:      "com.test.app1",
			UID:       10001,
			Partition: netperm.PartitionSystem,
			TargetSDK: 33,
			Requested: []string{netperm.PermChangeNetworkState, netperm.PermInternet},
			Granted:   []bool{true, true},
		},
	}}

	mon := netperm.NewMonitor(netperm.Config{FirstSDK: 30}, netperm.Deps{
		Packages: pkgs,
		Users:    staticUsers{},
		Settings: st,
		Kernel:   nopBackend{},
		Traffic:  nopBackend{},
		Vpn:      nopBackend{},
	}, logger)
	require.NoError(t, mon.Start())
	t.Cleanup(mon.Stop)

	return NewServer(ServerOptions{
		Monitor:  mon,
		Settings: st,
		Metrics:  metrics.New(),
		Logger:   logger,
	}), st
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestPermissionsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s.Handler(), "GET", "/api/v1/permissions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	uids := body["uids"].(map[string]any)
	assert.Equal(t, "NETWORK", uids["10001"])
	traffic := body["traffic"].(map[string]any)
	assert.Equal(t, "INTERNET", traffic["10001"])
}

func TestUidPermissionEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s.Handler(), "GET", "/api/v1/permissions/uid/10001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NETWORK", body["permission"])
	assert.Equal(t, true, body["background_network"])

	rec, body = doJSON(t, s.Handler(), "GET", "/api/v1/permissions/uid/424242", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NONE", body["permission"])
	assert.Equal(t, false, body["background_network"])
}

func TestAllowlistRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s.Handler(), "PUT", "/api/v1/allowlist", `{"allowed_uids": [10001]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{float64(10001)}, body["allowed_uids"])

	// The monitor saw the change: the uid is now SYSTEM level.
	rec, body = doJSON(t, s.Handler(), "GET", "/api/v1/permissions/uid/10001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SYSTEM", body["permission"])

	rec, body = doJSON(t, s.Handler(), "GET", "/api/v1/allowlist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{float64(10001)}, body["allowed_uids"])
}

func TestAllowlistRejectsBadBody(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := doJSON(t, s.Handler(), "PUT", "/api/v1/allowlist", `{"allowed_uids": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPackagesAvailableEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := doJSON(t, s.Handler(), "POST", "/api/v1/packages/available", `{"packages": ["com.test.app1"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, s.Handler(), "POST", "/api/v1/packages/available", `{"packages": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReloadUnwired(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := doJSON(t, s.Handler(), "POST", "/api/v1/reload", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s.Handler(), "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
