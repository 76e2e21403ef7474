// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ddf1 implements the SNIA Common RAID DDF v1.0 on-disk
// metadata format. The CRC32 checksum step is grounded on
// original_source/lib/format/ddf/ddf1_crc.c (zlib's crc32, equivalent
// to hash/crc32's IEEE polynomial); the anchor-record field layout
// follows the SNIA DDF1 structures named in spec.md §6.
package ddf1

import (
	"context"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/lvmteam/dmraid-go/lib/binstruct"
	"github.com/lvmteam/dmraid-go/lib/raidfmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

const (
	ddfGUIDLength = 24
	checksumOff   = 0x4 // offset of the CRC field within the anchor
)

// anchor is the DDF1 Anchor_Header, the final sector of a DDF1-managed
// disk; it carries checksum, signature, and the byte offsets to every
// other metadata section (header, controller data, physical/virtual
// disk records, config records).
type anchor struct {
	Signature       binstruct.U32be  `bin:"off=0x0, siz=0x4"`
	CRC             binstruct.U32be  `bin:"off=0x4, siz=0x4"`
	DiskGUID        [ddfGUIDLength]byte `bin:"off=0x8, siz=0x18"`
	Revision        [8]byte         `bin:"off=0x20, siz=0x8"`
	PrimaryLBA      binstruct.U64be `bin:"off=0x28, siz=0x8"`
	SecondaryLBA    binstruct.U64be `bin:"off=0x30, siz=0x8"`
	HeaderType      binstruct.U8    `bin:"off=0x38, siz=0x1"`
	Pad1            [3]byte         `bin:"off=0x39, siz=0x3"`
	WorkSpaceLength binstruct.U32be `bin:"off=0x3c, siz=0x4"`
	WorkSpaceLBA    binstruct.U64be `bin:"off=0x40, siz=0x8"`
	MaxPDEntries    binstruct.U16be `bin:"off=0x48, siz=0x2"`
	MaxVDEntries    binstruct.U16be `bin:"off=0x4a, siz=0x2"`
	MaxPartitions   binstruct.U16be `bin:"off=0x4c, siz=0x2"`
	ConfigRecLen    binstruct.U16be `bin:"off=0x4e, siz=0x2"`
	VDConfigRecLen  binstruct.U16be `bin:"off=0x50, siz=0x2"`
	binstruct.End   `bin:"off=0x52"`
}

const ddfSignature = 0x44656644 // "DfeD", SNIA DDF1's Anchor_Header Signature value

// Format implements raidfmt.Format for SNIA DDF1 metadata.
type Format struct{}

var _ raidfmt.Format = Format{}

func (Format) Name() string { return "ddf1" }

func readAnchor(ctx context.Context, disk *raidvol.DiskInfo) (*anchor, error) {
	if disk.Sectors() < 1 {
		return nil, fmt.Errorf("ddf1: %s: empty device", disk.Path)
	}
	off := disk.Sectors() - 1
	buf := make([]byte, binstruct.StaticSize(anchor{}))
	if _, err := disk.File().ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("ddf1: %s: %w", disk.Path, err)
	}
	var a anchor
	if _, err := binstruct.Unmarshal(buf, &a); err != nil {
		return nil, fmt.Errorf("ddf1: %s: %w", disk.Path, err)
	}
	if uint32(a.Signature) != ddfSignature {
		return nil, fmt.Errorf("ddf1: %s: bad anchor signature", disk.Path)
	}

	check := make([]byte, len(buf))
	copy(check, buf)
	check[checksumOff] = 0xff
	check[checksumOff+1] = 0xff
	check[checksumOff+2] = 0xff
	check[checksumOff+3] = 0xff
	if crc32.ChecksumIEEE(check) != uint32(a.CRC) {
		return nil, fmt.Errorf("ddf1: %s: CRC mismatch", disk.Path)
	}

	return &a, nil
}

func (Format) Probe(ctx context.Context, disk *raidvol.DiskInfo) (bool, error) {
	_, err := readAnchor(ctx, disk)
	return err == nil, nil //nolint:nilerr
}

func (Format) Read(ctx context.Context, disk *raidvol.DiskInfo) ([]*raidvol.RaidSet, error) {
	a, err := readAnchor(ctx, disk)
	if err != nil {
		return nil, err
	}

	diskGUID, guidErr := uuid.FromBytes(a.DiskGUID[:16])
	if guidErr != nil {
		diskGUID = uuid.Nil
	}

	rd := &raidvol.RaidDev{
		Disk:   disk,
		Size:   raidvol.Sector(a.WorkSpaceLBA),
		Type:   raidprim.TypeLinear,
		Status: raidprim.StatusOK,
	}
	name := fmt.Sprintf("ddf1_%s", diskGUID.String())
	return []*raidvol.RaidSet{raidvol.NewLeafSet(name, rd)}, nil
}

func (Format) Write(ctx context.Context, rs *raidvol.RaidSet, erase bool) error {
	return fmt.Errorf("ddf1: metadata write not implemented for set %q", rs.Name)
}
