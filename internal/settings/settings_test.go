// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netperm/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError})
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "settings.hcl"), testLogger())
	require.NoError(t, err)
	assert.Empty(t, s.AllowedUids())
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.hcl")
	require.NoError(t, os.WriteFile(path, []byte("allowed_uids = [10001, 110086]\n"), 0o644))

	s, err := Load(path, testLogger())
	require.NoError(t, err)

	allowed := s.AllowedUids()
	assert.Len(t, allowed, 2)
	assert.Contains(t, allowed, 10001)
	assert.Contains(t, allowed, 110086)
}

func TestLoadRejectsNegativeUid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.hcl")
	require.NoError(t, os.WriteFile(path, []byte("allowed_uids = [-1]\n"), 0o644))

	_, err := Load(path, testLogger())
	assert.Error(t, err)
}

func TestSetAllowedUidsPersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.hcl")
	s, err := Load(path, testLogger())
	require.NoError(t, err)

	fired := 0
	s.Subscribe(func() { fired++ })

	require.NoError(t, s.SetAllowedUids([]int{10086, 10001}))
	assert.Equal(t, 1, fired)
	assert.Contains(t, s.AllowedUids(), 10001)

	// The written file round-trips through a fresh load.
	s2, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, s.AllowedUids(), s2.AllowedUids())

	// Replacement is wholesale, not a merge.
	require.NoError(t, s.SetAllowedUids(nil))
	assert.Empty(t, s.AllowedUids())
	assert.Equal(t, 2, fired)
}

func TestReloadPicksUpExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.hcl")
	s, err := Load(path, testLogger())
	require.NoError(t, err)

	fired := 0
	s.Subscribe(func() { fired++ })

	require.NoError(t, os.WriteFile(path, []byte("allowed_uids = [42]\n"), 0o644))
	require.NoError(t, s.Reload())

	assert.Contains(t, s.AllowedUids(), 42)
	assert.Equal(t, 1, fired)
}
