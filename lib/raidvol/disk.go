// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package raidvol models the tree of RaidSets reconstructed from
// on-disk vendor metadata, the way the teacher's btrfsvol models a
// flat logical-to-physical chunk map: RaidSet nodes linked to each
// other by Children/Parent pointers, with bottom-up size computation and
// derror.MultiError for aggregate teardown.
package raidvol

import (
	"fmt"

	"github.com/lvmteam/dmraid-go/lib/diskio"
)

const bytesPerSector = 512

// sectorFile adapts a byte-addressed diskio.File (as diskio.OSFile[int64]
// opens a block device) into one addressed in 512-byte Sectors, the
// unit every vendor format's on-disk offsets are expressed in.
type sectorFile struct {
	inner diskio.File[int64]
}

var _ diskio.File[Sector] = (*sectorFile)(nil)

func (f *sectorFile) Name() string { return f.inner.Name() }
func (f *sectorFile) Size() Sector { return Sector(f.inner.Size() / bytesPerSector) }
func (f *sectorFile) Close() error { return f.inner.Close() }

func (f *sectorFile) ReadAt(p []byte, off Sector) (int, error) {
	return f.inner.ReadAt(p, int64(off)*bytesPerSector)
}

func (f *sectorFile) WriteAt(p []byte, off Sector) (int, error) {
	return f.inner.WriteAt(p, int64(off)*bytesPerSector)
}

// DiskInfo describes one physical block device that carries (or may
// carry) RAID metadata: the open file, its sector count, and the
// kernel-visible path used to build dm table lines.
type DiskInfo struct {
	ID     DeviceID
	Path   string
	Serial string
	file   diskio.File[Sector]
}

// NewDiskInfo wraps a byte-addressed file (typically a diskio.OSFile[int64]
// opened on a raw block device) as a DiskInfo, converting its address
// space to 512-byte Sectors.
func NewDiskInfo(id DeviceID, path string, raw diskio.File[int64]) *DiskInfo {
	return &DiskInfo{
		ID:   id,
		Path: path,
		file: &sectorFile{inner: raw},
	}
}

func (d *DiskInfo) File() diskio.File[Sector] { return d.file }

// Sectors returns the disk's total size, in 512-byte sectors.
func (d *DiskInfo) Sectors() Sector {
	if d.file == nil {
		return 0
	}
	return d.file.Size()
}

func (d *DiskInfo) Close() error {
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}

func (d *DiskInfo) String() string {
	return fmt.Sprintf("%s(id=%v)", d.Path, d.ID)
}
