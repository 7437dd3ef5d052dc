// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netperm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVpnTableAddRemove(t *testing.T) {
	tbl := newVpnTable()
	assert.Nil(t, tbl.Get("tun0"))

	r1 := UidRange{Start: 0, Stop: 9999}
	r2 := UidRange{Start: 20000, Stop: 29999}

	tbl.Add("tun0", []UidRange{r1})
	tbl.Add("tun0", []UidRange{r1, r2})
	assert.ElementsMatch(t, []UidRange{r1, r2}, tbl.Get("tun0"), "duplicate add is folded")

	tbl.Remove("tun0", []UidRange{r1})
	assert.ElementsMatch(t, []UidRange{r2}, tbl.Get("tun0"))

	// Dropping the last range drops the interface entry entirely.
	tbl.Remove("tun0", []UidRange{r2})
	assert.Nil(t, tbl.Get("tun0"))
	assert.Empty(t, tbl.Interfaces())
}

func TestVpnTableRemoveUnknownInterface(t *testing.T) {
	tbl := newVpnTable()
	tbl.Add("tun0", []UidRange{{Start: 0, Stop: 9999}})

	tbl.Remove("tun9", []UidRange{{Start: 0, Stop: 9999}})
	assert.ElementsMatch(t, []string{"tun0"}, tbl.Interfaces())
}

func TestIntersectUidsSpansUsers(t *testing.T) {
	appIDs := []int{10001, 10086}

	// A range covering user 0 and user 1 entirely.
	ranges := []UidRange{{Start: 0, Stop: 2*PerUserRange - 1}}
	uids := intersectUids(ranges, appIDs)
	assert.Equal(t, []int{10001, 10086, UIDForUser(1, 10001), UIDForUser(1, 10086)},
		sortedKeys(uids))

	// A punched-out range excludes the hole.
	ranges = []UidRange{
		{Start: 0, Stop: 10085},
		{Start: 10087, Stop: PerUserRange - 1},
	}
	uids = intersectUids(ranges, appIDs)
	assert.Equal(t, []int{10001}, sortedKeys(uids))
}

func TestRangeForUser(t *testing.T) {
	r := RangeForUser(1)
	assert.Equal(t, UidRange{Start: PerUserRange, Stop: 2*PerUserRange - 1}, r)
	assert.True(t, r.Contains(UIDForUser(1, 10001)))
	assert.False(t, r.Contains(10001))
}
