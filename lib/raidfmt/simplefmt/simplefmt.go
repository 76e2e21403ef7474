// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package simplefmt is a shared engine for the smaller BIOS-RAID
// vendor formats (Promise FastTrak, HighPoint 37x/45x, LSI MegaRAID,
// NVIDIA MediaShield, Silicon Image, VIA, JMicron) that spec.md §2
// lists but whose exact on-disk layouts are not present in the
// retrieval pack the way isw.h/isw.c and asr.c are. Rather than
// independently reconstruct seven ungrounded byte-for-byte layouts,
// every one of these formats is expressed as a Spec against this one
// generic single-record reader, whose record shape and
// checksum (a word-sum, skipping the checksum field itself) follow
// the pattern both isw.c and asr.c already establish for this family
// of controllers. See DESIGN.md. Write is not implemented and returns
// an error.
package simplefmt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/lvmteam/dmraid-go/lib/binstruct"
	"github.com/lvmteam/dmraid-go/lib/raidfmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

// record is the common single-sector metadata block this family of
// plug-ins is modeled on: a signature, a RAID type/status byte pair, a
// disk's position and size within its set, and a checksum over the
// rest of the record's 0x30 bytes.
type record struct {
	Signature    [8]byte         `bin:"off=0x0, siz=0x8"`
	Version      binstruct.U32le `bin:"off=0x8, siz=0x4"`
	DiskCount    binstruct.U8    `bin:"off=0xc, siz=0x1"`
	DiskIndex    binstruct.U8    `bin:"off=0xd, siz=0x1"`
	RaidType     binstruct.U8    `bin:"off=0xe, siz=0x1"`
	RaidStatus   binstruct.U8    `bin:"off=0xf, siz=0x1"`
	StripeSize   binstruct.U32le `bin:"off=0x10, siz=0x4"`
	TotalSectors binstruct.U64le `bin:"off=0x14, siz=0x8"`
	Checksum     binstruct.U32le `bin:"off=0x1c, siz=0x4"`
	Name         [16]byte        `bin:"off=0x20, siz=0x10"`
	binstruct.End `bin:"off=0x30"`
}

// Locator picks the sector a Spec's record lives at, given the disk's
// total sector count — spec.md §2's "last sector; two-sectors-from-end;
// fixed absolute offset" taxonomy.
type Locator func(total raidvol.Sector) raidvol.Sector

func LastSector(total raidvol.Sector) raidvol.Sector { return total - 1 }

func SectorsFromEnd(n raidvol.Sector) Locator {
	return func(total raidvol.Sector) raidvol.Sector { return total - n }
}

func FixedSector(n raidvol.Sector) Locator {
	return func(total raidvol.Sector) raidvol.Sector { return n }
}

// RaidTypeTable maps a Spec's on-disk RaidType byte values to the
// unified raidprim.Type enum; each vendor enumerates levels in its own
// order, so every Spec supplies its own table.
type RaidTypeTable map[uint8]raidprim.Type

// Spec configures one vendor's instance of the generic engine.
type Spec struct {
	HandlerName string
	Signature   []byte // compared against record.Signature's leading bytes
	Locate      Locator
	Types       RaidTypeTable

	// Maximize requests spec.md §4.4's F_MAXIMIZE behavior for this
	// vendor's raid0 arrays: a heterogeneous-sized member set is
	// striped in successive size bands instead of truncating every
	// member down to the smallest one's size. Vendors whose tooling
	// never presents mismatched member sizes as a supported
	// configuration (most of this family) leave it false.
	Maximize bool
}

// Format adapts a Spec into a raidfmt.Format.
type Format struct {
	Spec Spec
}

var (
	_ raidfmt.Format    = Format{}
	_ raidfmt.DevSorter = Format{}
)

func (f Format) Name() string { return f.Spec.HandlerName }

func checksum(buf []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		if i == 0x1c {
			continue // skip the checksum field itself, as isw.c's checksum() does
		}
		sum += uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24
	}
	return sum
}

func (f Format) read(disk *raidvol.DiskInfo) (*record, error) {
	total := disk.Sectors()
	if total < 1 {
		return nil, fmt.Errorf("%s: %s: empty device", f.Spec.HandlerName, disk.Path)
	}
	off := f.Spec.Locate(total)
	if off < 0 || off >= total {
		return nil, fmt.Errorf("%s: %s: metadata offset out of range", f.Spec.HandlerName, disk.Path)
	}
	buf := make([]byte, binstruct.StaticSize(record{}))
	if _, err := disk.File().ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", f.Spec.HandlerName, disk.Path, err)
	}
	if !bytes.Equal(buf[:len(f.Spec.Signature)], f.Spec.Signature) {
		return nil, fmt.Errorf("%s: %s: signature mismatch", f.Spec.HandlerName, disk.Path)
	}
	var rec record
	if _, err := binstruct.Unmarshal(buf, &rec); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", f.Spec.HandlerName, disk.Path, err)
	}
	if checksum(buf) != uint32(rec.Checksum) {
		return nil, fmt.Errorf("%s: %s: checksum mismatch", f.Spec.HandlerName, disk.Path)
	}
	return &rec, nil
}

func (f Format) Probe(ctx context.Context, disk *raidvol.DiskInfo) (bool, error) {
	_, err := f.read(disk)
	return err == nil, nil //nolint:nilerr
}

func (f Format) status(rec *record) raidprim.Status {
	switch rec.RaidStatus {
	case 0:
		return raidprim.StatusOK
	case 1:
		return raidprim.StatusNosync
	case 2:
		return raidprim.StatusBroken
	default:
		return raidprim.StatusUndef
	}
}

func (f Format) Read(ctx context.Context, disk *raidvol.DiskInfo) ([]*raidvol.RaidSet, error) {
	rec, err := f.read(disk)
	if err != nil {
		return nil, err
	}

	typ, ok := f.Spec.Types[uint8(rec.RaidType)]
	if !ok {
		typ = raidprim.TypeUndef
	}

	name := fmt.Sprintf("%s_%s", f.Spec.HandlerName, string(bytes.TrimRight(rec.Name[:], "\x00")))
	rd := &raidvol.RaidDev{
		Disk:   disk,
		Index:  int(rec.DiskIndex),
		Size:   raidvol.Sector(rec.TotalSectors),
		Type:   typ,
		Status: f.status(rec),
	}
	rs := raidvol.NewLeafSet(name, rd)
	rs.ChunkSize = raidvol.SectorDelta(rec.StripeSize)
	rs.Maximize = f.Spec.Maximize
	return []*raidvol.RaidSet{rs}, nil
}

// SortKey is the disk's position within its set, the way ISW sorts by
// disk-table index (see DESIGN.md's "ISW dev-sort stability" decision) —
// every vendor in this family exposes an explicit index byte, so there
// is no ASR-style composite key to reconstruct.
func (f Format) SortKey(dev *raidvol.RaidDev) uint64 { return uint64(dev.Index) }

func (f Format) Write(ctx context.Context, rs *raidvol.RaidSet, erase bool) error {
	return fmt.Errorf("%s: metadata write not implemented for set %q", f.Spec.HandlerName, rs.Name)
}
