// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package dospart_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvmteam/dmraid-go/lib/diskio"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/dospart"
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

// buildMBR writes sector 0 with two primary entries (one Linux, 0x83,
// one extended, 0x05) and the canonical 0x1fe boot signature.
func buildMBR() []byte {
	sector := make([]byte, 512)
	table := sector[0x1be:]

	// entry 0: a plain Linux partition
	table[0x4] = 0x83
	binary.LittleEndian.PutUint32(table[0x8:], 2048)
	binary.LittleEndian.PutUint32(table[0xc:], 204800)

	// entry 1: an extended partition, whose logical chain this plug-in
	// does not walk
	e1 := table[entrySize:]
	e1[0x4] = 0x05
	binary.LittleEndian.PutUint32(e1[0x8:], 206848)
	binary.LittleEndian.PutUint32(e1[0xc:], 102400)

	sector[0x1fe] = 0x55
	sector[0x1ff] = 0xaa
	return sector
}

const entrySize = 16

func TestReadPrimaryPartitionsOnly(t *testing.T) {
	buf := buildMBR()
	disk := raidvol.NewDiskInfo(0, "/dev/fakedisk", &memFile{name: "/dev/fakedisk", buf: buf})
	t.Cleanup(func() { _ = disk.Close() })

	f := dospart.Format{}
	ok, err := f.Probe(context.Background(), disk)
	require.NoError(t, err)
	assert.True(t, ok)

	sets, err := f.Read(context.Background(), disk)
	require.NoError(t, err)
	// Only the Linux entry surfaces; the extended-partition entry is
	// detected (it makes Probe report true) but not walked into its
	// logical chain.
	require.Len(t, sets, 1)
	assert.Equal(t, raidvol.Sector(2048), sets[0].Dev.Offset)
	assert.Equal(t, raidvol.Sector(204800), sets[0].Dev.Size)
}

func TestProbeRejectsMissingBootSignature(t *testing.T) {
	buf := make([]byte, 512)
	disk := raidvol.NewDiskInfo(0, "/dev/fakedisk2", &memFile{name: "/dev/fakedisk2", buf: buf})
	t.Cleanup(func() { _ = disk.Close() })

	f := dospart.Format{}
	ok, err := f.Probe(context.Background(), disk)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadRejectsAllEmptyTable(t *testing.T) {
	sector := make([]byte, 512)
	sector[0x1fe] = 0x55
	sector[0x1ff] = 0xaa
	disk := raidvol.NewDiskInfo(0, "/dev/fakedisk3", &memFile{name: "/dev/fakedisk3", buf: sector})
	t.Cleanup(func() { _ = disk.Close() })

	f := dospart.Format{}
	ok, err := f.Probe(context.Background(), disk)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.Read(context.Background(), disk)
	assert.Error(t, err)
}
