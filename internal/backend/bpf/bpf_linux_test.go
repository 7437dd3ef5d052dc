// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package bpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netperm/internal/logging"
	"grimm.is/netperm/internal/netperm"
	"grimm.is/netperm/internal/testutil"
)

func TestBackendRoundTrip(t *testing.T) {
	testutil.RequireVM(t)

	logger := logging.New(logging.Config{Level: logging.LevelError})
	b, err := New("/sys/fs/bpf/netperm-test", logger)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.SetTrafficPermission(netperm.TrafficInternet, []int{10001, 10086}))
	require.NoError(t, b.SetTrafficPermission(netperm.TrafficUninstalled, []int{10001}))

	require.NoError(t, b.AddUidInterfaceRules("tun0", []int{10001}))
	require.NoError(t, b.RemoveUidInterfaceRules([]int{10001}))

	// Deleting a rule that is not there is not an error.
	assert.NoError(t, b.RemoveUidInterfaceRules([]int{424242}))

	assert.Error(t, b.AddUidInterfaceRules("interface-name-way-too-long", []int{10001}))
}
