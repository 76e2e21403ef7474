// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package isw_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvmteam/dmraid-go/lib/diskio"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/isw"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

type memFile struct {
	name string
	buf  []byte
}

func (f *memFile) Name() string { return f.name }
func (f *memFile) Size() int64  { return int64(len(f.buf)) }
func (f *memFile) Close() error { return nil }
func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, f.buf[off:]), nil
}
func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	return copy(f.buf[off:], p), nil
}

var _ diskio.File[int64] = (*memFile)(nil)

const headerSize = 0xd8
const diskEntrySize = 0x30
const devFixedSize = 0xa0

// buildMPB assembles one ISW metadata block: a header, one disk-table
// entry for the probing disk, and one raid_dev (single member, raid0)
// whose disk_ord_tbl points back at that same disk.
func buildMPB(serial string) []byte {
	const mpbSize = headerSize + diskEntrySize + devFixedSize + 4
	mpb := make([]byte, mpbSize)

	copy(mpb[0x0:], isw.Signature)
	binary.LittleEndian.PutUint32(mpb[0x24:], mpbSize) // MpbSize
	binary.LittleEndian.PutUint32(mpb[0x28:], 0xdeadbeef) // FamilyNum
	mpb[0x38] = 1 // NumDisks
	mpb[0x39] = 1 // NumRaidDevs

	diskOff := headerSize
	copy(mpb[diskOff:diskOff+16], serial)
	binary.LittleEndian.PutUint32(mpb[diskOff+0x10:], 4096) // TotalBlocks
	binary.LittleEndian.PutUint32(mpb[diskOff+0x18:], 0x02) // Status: configured

	devOff := diskOff + diskEntrySize
	copy(mpb[devOff:devOff+16], "myvolume")
	binary.LittleEndian.PutUint32(mpb[devOff+0x10:], 2000) // SizeLow
	mpb[devOff+0x7e] = 0                                   // MapState: normal
	mpb[devOff+0x7f] = 0                                   // RaidLevel: 0
	mpb[devOff+0x80] = 1                                   // NumMembers
	binary.LittleEndian.PutUint16(mpb[devOff+0x7c:], 64)   // BlocksPerStrip

	ordOff := devOff + devFixedSize
	binary.LittleEndian.PutUint32(mpb[ordOff:], 0) // disk_ord_tbl[0] = disk index 0

	var sum uint32
	for i := 0; i+4 <= len(mpb); i += 4 {
		if i == 0x20 {
			continue
		}
		sum += binary.LittleEndian.Uint32(mpb[i : i+4])
	}
	binary.LittleEndian.PutUint32(mpb[0x20:], sum)

	return mpb
}

func TestReadOneDiskVolume(t *testing.T) {
	const sectors = 2000
	buf := make([]byte, sectors*512)
	mpb := buildMPB("SERIAL0000000001")
	copy(buf[(sectors-2)*512:], mpb)

	disk := raidvol.NewDiskInfo(0, "/dev/fakeisw", &memFile{name: "/dev/fakeisw", buf: buf})
	disk.Serial = "SERIAL0000000001"
	t.Cleanup(func() { _ = disk.Close() })

	f := isw.Format{}
	ok, err := f.Probe(context.Background(), disk)
	require.NoError(t, err)
	assert.True(t, ok)

	sets, err := f.Read(context.Background(), disk)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, raidprim.TypeRaid0, sets[0].Type)
	require.Len(t, sets[0].Children, 1)
	assert.Equal(t, raidvol.Sector(2000), sets[0].Children[0].Dev.Size)
}

func TestProbeRejectsBadSignature(t *testing.T) {
	const sectors = 2000
	buf := make([]byte, sectors*512)
	disk := raidvol.NewDiskInfo(0, "/dev/fakeisw2", &memFile{name: "/dev/fakeisw2", buf: buf})
	t.Cleanup(func() { _ = disk.Close() })

	f := isw.Format{}
	ok, err := f.Probe(context.Background(), disk)
	require.NoError(t, err)
	assert.False(t, ok)
}
