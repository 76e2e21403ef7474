// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

func internalLeaf(name string, typ raidprim.Type, chunkSize raidvol.SectorDelta) *raidvol.RaidSet {
	rs := raidvol.NewLeafSet(name, &raidvol.RaidDev{
		Type:   typ,
		Status: raidprim.StatusOK,
		Size:   100,
	})
	rs.ChunkSize = chunkSize
	return rs
}

// TestMergeIntoPropagatesChunkSize covers the asr/simplefmt-family path:
// two per-disk leaves for the same array, each already carrying the
// member's ChunkSize, must fold into a group whose ChunkSize is that
// agreed value rather than the zero default.
func TestMergeIntoPropagatesChunkSize(t *testing.T) {
	a := internalLeaf("stripe0_dev0", raidprim.TypeRaid0, 4)
	b := internalLeaf("stripe0_dev1", raidprim.TypeRaid0, 4)

	merged, err := mergeInto(a, b)
	require.NoError(t, err)
	assert.Equal(t, raidvol.SectorDelta(4), merged.ChunkSize)
	assert.Len(t, merged.Children, 2)
}

// TestMergeIntoRejectsConflictingChunkSize covers the "disagreement is a
// hard error" half of spec.md §3's stride invariant: two disks that
// claim the same set name but disagree on stride can't be describing
// the same striped array.
func TestMergeIntoRejectsConflictingChunkSize(t *testing.T) {
	a := internalLeaf("stripe0_dev0", raidprim.TypeRaid0, 4)
	b := internalLeaf("stripe0_dev1", raidprim.TypeRaid0, 8)

	_, err := mergeInto(a, b)
	assert.Error(t, err)
}
