// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ddf1_test

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvmteam/dmraid-go/lib/diskio"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/ddf1"
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

// buildAnchor writes a valid DDF1 anchor into the final sector of buf,
// mirroring original_source/lib/format/ddf/ddf1_crc.c's do_crc32():
// the CRC field is forced to all-ones before the checksum is computed
// over the whole record.
func buildAnchor(sector []byte, id uuid.UUID, workspaceLBA uint64) {
	binary.BigEndian.PutUint32(sector[0x0:], 0x44656644) // signature
	copy(sector[0x8:0x18], id[:])
	binary.BigEndian.PutUint64(sector[0x40:], workspaceLBA)

	sector[0x4], sector[0x5], sector[0x6], sector[0x7] = 0xff, 0xff, 0xff, 0xff
	const anchorSize = 0x52
	crc := crc32.ChecksumIEEE(sector[:anchorSize])
	binary.BigEndian.PutUint32(sector[0x4:], crc)
}

func TestReadValidatesAndParses(t *testing.T) {
	const sectors = 100
	buf := make([]byte, sectors*512)
	id := uuid.New()
	buildAnchor(buf[(sectors-1)*512:sectors*512], id, 12345)

	disk := raidvol.NewDiskInfo(0, "/dev/fakeddf", &memFile{name: "/dev/fakeddf", buf: buf})
	t.Cleanup(func() { _ = disk.Close() })

	f := ddf1.Format{}
	ok, err := f.Probe(context.Background(), disk)
	require.NoError(t, err)
	assert.True(t, ok)

	sets, err := f.Read(context.Background(), disk)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, raidvol.Sector(12345), sets[0].Dev.Size)
}

func TestReadRejectsBadCRC(t *testing.T) {
	const sectors = 100
	buf := make([]byte, sectors*512)
	buildAnchor(buf[(sectors-1)*512:sectors*512], uuid.New(), 1)
	buf[(sectors-1)*512+0x10] ^= 0xff // corrupt a byte covered by the CRC

	disk := raidvol.NewDiskInfo(0, "/dev/fakeddf2", &memFile{name: "/dev/fakeddf2", buf: buf})
	t.Cleanup(func() { _ = disk.Close() })

	f := ddf1.Format{}
	ok, err := f.Probe(context.Background(), disk)
	require.NoError(t, err)
	assert.False(t, ok)
}
