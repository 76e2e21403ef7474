// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package asr_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvmteam/dmraid-go/lib/group"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/asr"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

// buildRaid10Disk encodes one physical disk's view of a four-disk
// FWL_2/RAID10 array (spec.md §8 scenario 2): a lower FWL descriptor for
// this disk's mirror, the top FWL_2 descriptor, and this disk's own
// config line, in that order so find_logical's backward scan finds the
// FWL row before reaching this disk's own row.
func buildRaid10Disk(sectors int, driveMagic, lowerMagic, topMagic uint32, lowerName, topName string) []byte {
	buf := make([]byte, sectors*512)

	rb := buf[(sectors-1)*512:]
	binary.BigEndian.PutUint32(rb[0x0:], 0x41445045)
	binary.BigEndian.PutUint32(rb[0xc:], driveMagic)

	rt := buf[(sectors-2)*512:]
	binary.BigEndian.PutUint32(rt[0x0:], 0x32444c56)
	binary.BigEndian.PutUint32(rt[0x4:], 3) // ElmCnt

	lines := rt[0x10:]

	lower := lines[0*0x2c:]
	binary.BigEndian.PutUint32(lower[0x0:], lowerMagic)
	binary.BigEndian.PutUint32(lower[0xc:], 3) // raidTypeFWL
	copy(lower[0x1c:0x2c], lowerName)

	top := lines[1*0x2c:]
	binary.BigEndian.PutUint32(top[0x0:], topMagic)
	binary.BigEndian.PutUint32(top[0xc:], 4) // raidTypeFWL2
	copy(top[0x1c:0x2c], topName)

	mine := lines[2*0x2c:]
	binary.BigEndian.PutUint32(mine[0x0:], driveMagic)
	binary.BigEndian.PutUint32(mine[0x4:], 0)  // RaidState: optimal
	binary.BigEndian.PutUint32(mine[0x8:], 64) // StrpSize
	binary.BigEndian.PutUint32(mine[0xc:], 1)  // raidTypeRaid1
	binary.BigEndian.PutUint32(mine[0x18:], 2500)
	copy(mine[0x1c:0x2c], topName)

	binary.BigEndian.PutUint32(rt[0xc:], byteSum(lines[:3*0x2c])) // CheckSum
	return buf
}

// TestReadRaid10TwoTierStacking drives four disks (two mirrors of two
// disks each) through Format.Read with a shared Supersets registry, the
// way Discover wires one per run, and checks the result is one raid0
// superset over two raid1 children — spec.md §8 scenario 2's "ASR
// RAID10: four disks ... a superset of type raid0 with two RAID1
// children" property.
func TestReadRaid10TwoTierStacking(t *testing.T) {
	ctx := group.WithSupersets(context.Background())
	f := asr.Format{}

	type diskSpec struct {
		drive, lower uint32
		lowerName    string
	}
	specs := []diskSpec{
		{drive: 0x1, lower: 0x1111, lowerName: "lower0"},
		{drive: 0x2, lower: 0x1111, lowerName: "lower0"},
		{drive: 0x3, lower: 0x2222, lowerName: "lower1"},
		{drive: 0x4, lower: 0x2222, lowerName: "lower1"},
	}

	var top *raidvol.RaidSet
	for i, s := range specs {
		buf := buildRaid10Disk(100, s.drive, s.lower, 0x9999, s.lowerName, "raid10set")
		disk := raidvol.NewDiskInfo(0, "/dev/fakeraid10", &memFile{name: "/dev/fakeraid10", buf: buf})
		t.Cleanup(func() { _ = disk.Close() })

		sets, err := f.Read(ctx, disk)
		require.NoError(t, err, "disk %d", i)
		require.Len(t, sets, 1)
		top = sets[0]
	}

	require.NotNil(t, top)
	assert.Equal(t, "asr_raid10set", top.Name)
	assert.Equal(t, raidprim.TypeRaid0, top.Type)
	require.Len(t, top.Children, 2)
	for _, mirror := range top.Children {
		assert.Equal(t, raidprim.TypeRaid1, mirror.Type)
		assert.Len(t, mirror.Children, 2)
	}
}
