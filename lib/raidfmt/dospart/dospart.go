// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dospart implements the DOS partition-table pseudo-format
// (spec.md §4.6): an activated set's DM node is walked for an MBR,
// each non-empty primary partition becoming a single-member RaidSet of
// type partition; logical partitions inside an extended partition are
// not walked. It is registered only in the partition pass's own
// registry, never alongside the vendor Formats.
package dospart

import (
	"bytes"
	"context"
	"fmt"

	"github.com/lvmteam/dmraid-go/lib/binstruct"
	"github.com/lvmteam/dmraid-go/lib/diskio"
	"github.com/lvmteam/dmraid-go/lib/raidfmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

const (
	sectorBytes = 512
	numEntries  = 4
	entrySize   = 16
)

var bootSignature = []byte{0x55, 0xaa}

// partitionEntry is one of the MBR's four primary partition table
// rows.
type partitionEntry struct {
	Status       binstruct.U8    `bin:"off=0x0, siz=0x1"`
	CHSStart     [3]byte         `bin:"off=0x1, siz=0x3"`
	SysType      binstruct.U8    `bin:"off=0x4, siz=0x1"`
	CHSEnd       [3]byte         `bin:"off=0x5, siz=0x3"`
	LBAStart     binstruct.U32le `bin:"off=0x8, siz=0x4"`
	NumSectors   binstruct.U32le `bin:"off=0xc, siz=0x4"`
	binstruct.End `bin:"off=0x10"`
}

const (
	sysTypeEmpty    = 0x00
	sysTypeExtCHS   = 0x05
	sysTypeExtLBA   = 0x0f
)

// Format implements raidfmt.Format for the DOS partition table.
type Format struct{}

var _ raidfmt.Format = Format{}

func (Format) Name() string { return "dospart" }

// findBootSignature scans sector 0 for the 0x55 0xaa boot signature
// using diskio's Knuth-Morris-Pratt scanner, rather than assuming it
// always sits at the canonical offset 0x1fe — some controllers' BIOS
// emulation pads or relocates the trailing bytes of the boot sector.
func findBootSignature(sector []byte) (int, error) {
	matches, err := diskio.FindAll(bytes.NewReader(sector), bootSignature)
	if err != nil {
		return -1, err
	}
	if len(matches) == 0 {
		return -1, fmt.Errorf("dospart: no boot signature found")
	}
	// The real boot signature is the last match (a "55 aa" can
	// coincidentally recur earlier in partition CHS/bootstrap bytes).
	return int(matches[len(matches)-1]), nil
}

func (Format) readMBR(disk *raidvol.DiskInfo) ([]partitionEntry, error) {
	if disk.Sectors() < 1 {
		return nil, fmt.Errorf("dospart: %s: empty device", disk.Path)
	}
	sector := make([]byte, sectorBytes)
	if _, err := disk.File().ReadAt(sector, 0); err != nil {
		return nil, fmt.Errorf("dospart: %s: %w", disk.Path, err)
	}
	sigOff, err := findBootSignature(sector)
	if err != nil {
		return nil, fmt.Errorf("dospart: %s: %w", disk.Path, err)
	}
	tableOff := sigOff - numEntries*entrySize
	if tableOff < 0 || tableOff+numEntries*entrySize > len(sector) {
		return nil, fmt.Errorf("dospart: %s: boot signature at implausible offset %#x", disk.Path, sigOff)
	}

	entries := make([]partitionEntry, 0, numEntries)
	for i := 0; i < numEntries; i++ {
		buf := sector[tableOff+i*entrySize : tableOff+(i+1)*entrySize]
		var e partitionEntry
		if _, err := binstruct.Unmarshal(buf, &e); err != nil {
			return nil, fmt.Errorf("dospart: %s: entry %d: %w", disk.Path, i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (f Format) Probe(ctx context.Context, disk *raidvol.DiskInfo) (bool, error) {
	entries, err := f.readMBR(disk)
	if err != nil {
		return false, nil //nolint:nilerr
	}
	for _, e := range entries {
		if e.SysType != sysTypeEmpty {
			return true, nil
		}
	}
	return false, nil
}

func (f Format) Read(ctx context.Context, disk *raidvol.DiskInfo) ([]*raidvol.RaidSet, error) {
	entries, err := f.readMBR(disk)
	if err != nil {
		return nil, err
	}

	var sets []*raidvol.RaidSet
	for i, e := range entries {
		if e.SysType == sysTypeEmpty {
			continue
		}
		if e.SysType == sysTypeExtCHS || e.SysType == sysTypeExtLBA {
			// Logical partitions inside an extended partition
			// chain are not walked; this plug-in only surfaces
			// primary partitions as RAID members.
			continue
		}
		rd := &raidvol.RaidDev{
			Disk:   disk,
			Index:  i,
			Offset: raidvol.Sector(e.LBAStart),
			Size:   raidvol.Sector(e.NumSectors),
			Type:   raidprim.TypePartition,
			Status: raidprim.StatusOK,
		}
		name := fmt.Sprintf("dospart_%d", i+1)
		sets = append(sets, raidvol.NewLeafSet(name, rd))
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("dospart: %s: no non-empty partition entries", disk.Path)
	}
	return sets, nil
}

func (Format) Write(ctx context.Context, rs *raidvol.RaidSet, erase bool) error {
	return fmt.Errorf("dospart: metadata write not implemented for set %q", rs.Name)
}
