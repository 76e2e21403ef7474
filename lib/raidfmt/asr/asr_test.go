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

	"github.com/lvmteam/dmraid-go/lib/diskio"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/asr"
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

// byteSum mirrors asr.go's unexported checksum16: a plain byte sum of
// the config-line region, masked to 16 bits (asr.c's compute_checksum()).
func byteSum(buf []byte) uint32 {
	var sum uint32
	for _, b := range buf {
		sum += uint32(b)
	}
	return sum & 0xFFFF
}

func buildDisk(sectors int) []byte {
	buf := make([]byte, sectors*512)

	// reserved block, last sector
	rb := buf[(sectors-1)*512:]
	binary.BigEndian.PutUint32(rb[0x0:], 0x41445045) // B0IDCode
	binary.BigEndian.PutUint32(rb[0xc:], 0x1)         // DriveMagic

	// raid table, second-to-last sector: header + one config line
	rt := buf[(sectors-2)*512:]
	binary.BigEndian.PutUint32(rt[0x0:], 0x32444c56) // RIDCode
	binary.BigEndian.PutUint32(rt[0x4:], 1)           // ElmCnt

	cl := rt[0x10:]
	binary.BigEndian.PutUint32(cl[0x0:], 0x1) // RaidMagic == DriveMagic
	binary.BigEndian.PutUint32(cl[0x4:], 0)   // RaidState: optimal
	binary.BigEndian.PutUint32(cl[0x8:], 64)  // StrpSize
	binary.BigEndian.PutUint32(cl[0xc:], 0)   // RaidType: raid0
	binary.BigEndian.PutUint32(cl[0x18:], 5000) // Size
	copy(cl[0x1c:0x2c], "myset")

	binary.BigEndian.PutUint32(rt[0xc:], byteSum(cl[:0x2c])) // CheckSum

	return buf
}

func TestReadSingleMember(t *testing.T) {
	buf := buildDisk(100)
	disk := raidvol.NewDiskInfo(0, "/dev/fakeasr", &memFile{name: "/dev/fakeasr", buf: buf})
	t.Cleanup(func() { _ = disk.Close() })

	f := asr.Format{}
	ok, err := f.Probe(context.Background(), disk)
	require.NoError(t, err)
	assert.True(t, ok)

	sets, err := f.Read(context.Background(), disk)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, raidprim.TypeRaid0, sets[0].Type)
	assert.Equal(t, raidvol.Sector(5000), sets[0].Dev.Size)
	assert.Equal(t, "asr_myset", sets[0].Name)
}

func TestReadRejectsBadChecksum(t *testing.T) {
	buf := buildDisk(100)
	// Corrupt one byte of the config line without touching CheckSum.
	rt := buf[98*512:]
	rt[0x10+0x18] ^= 0xff

	disk := raidvol.NewDiskInfo(0, "/dev/fakeasr3", &memFile{name: "/dev/fakeasr3", buf: buf})
	t.Cleanup(func() { _ = disk.Close() })

	f := asr.Format{}
	// Probe shares read()'s validation, so a corrupted config line
	// fails probing too, not just Read.
	ok, err := f.Probe(context.Background(), disk)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.Read(context.Background(), disk)
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestProbeRejectsMissingReservedBlock(t *testing.T) {
	buf := make([]byte, 100*512)
	disk := raidvol.NewDiskInfo(0, "/dev/fakeasr2", &memFile{name: "/dev/fakeasr2", buf: buf})
	t.Cleanup(func() { _ = disk.Close() })

	f := asr.Format{}
	ok, err := f.Probe(context.Background(), disk)
	require.NoError(t, err)
	assert.False(t, ok)
}
