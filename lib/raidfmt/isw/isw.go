// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package isw implements the Intel Matrix Storage Manager ("ISW")
// on-disk RAID metadata format, grounded byte-for-byte on
// original_source/lib/format/ataraid/isw.{c,h}.
package isw

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/lvmteam/dmraid-go/lib/binstruct"
	"github.com/lvmteam/dmraid-go/lib/raidfmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

const (
	Signature          = "Intel Raid ISM Cfg Sig. "
	maxSignatureLength = 32
	maxRaidSerialLen   = 16
	diskBlockSize      = 512
)

// Disk statuses (isw_disk.status bits).
const (
	statusSpare      = 0x01
	statusConfigured = 0x02
	statusFailed     = 0x04
	statusUsable     = 0x08
)

// RAID level codes (isw_map.raid_level).
const (
	raidLevel0 = 0
	raidLevel1 = 1
	raidLevel5 = 5
)

// Header is the fixed 0xD8-byte prefix of the ISW metadata block
// ("struct isw" up to, but not including, the disk table).
type Header struct {
	Sig           [maxSignatureLength]byte `bin:"off=0x0, siz=0x20"`
	CheckSum      binstruct.U32le          `bin:"off=0x20, siz=0x4"`
	MpbSize       binstruct.U32le          `bin:"off=0x24, siz=0x4"`
	FamilyNum     binstruct.U32le          `bin:"off=0x28, siz=0x4"`
	GenerationNum binstruct.U32le          `bin:"off=0x2c, siz=0x4"`
	Reserved      [2]binstruct.U32le       `bin:"off=0x30, siz=0x8"`
	NumDisks      binstruct.U8             `bin:"off=0x38, siz=0x1"`
	NumRaidDevs   binstruct.U8             `bin:"off=0x39, siz=0x1"`
	Fill          [2]byte                  `bin:"off=0x3a, siz=0x2"`
	Filler        [39]binstruct.U32le      `bin:"off=0x3c, siz=0x9c"`
	binstruct.End `bin:"off=0xd8"`
}

// DiskEntry is one 0x30-byte row of the disk table ("struct isw_disk").
type DiskEntry struct {
	Serial        [maxRaidSerialLen]byte `bin:"off=0x0, siz=0x10"`
	TotalBlocks   binstruct.U32le        `bin:"off=0x10, siz=0x4"`
	ScsiID        binstruct.U32le        `bin:"off=0x14, siz=0x4"`
	Status        binstruct.U32le        `bin:"off=0x18, siz=0x4"`
	Filler        [5]binstruct.U32le     `bin:"off=0x1c, siz=0x14"`
	binstruct.End `bin:"off=0x30"`
}

// devFixed is the fixed-size prefix of "struct isw_dev", up to (but not
// including) the migrate-state second map that dmraid itself only
// reads for in-progress migrations; this plug-in, like the common path
// through the original, only reads the first map.
type devFixed struct {
	Volume          [maxRaidSerialLen]byte `bin:"off=0x0, siz=0x10"`
	SizeLow         binstruct.U32le        `bin:"off=0x10, siz=0x4"`
	SizeHigh        binstruct.U32le        `bin:"off=0x14, siz=0x4"`
	Status          binstruct.U32le        `bin:"off=0x18, siz=0x4"`
	ReservedBlocks  binstruct.U32le        `bin:"off=0x1c, siz=0x4"`
	Filler          [12]binstruct.U32le    `bin:"off=0x20, siz=0x30"`
	VolReserved     [2]binstruct.U32le     `bin:"off=0x50, siz=0x8"`
	MigrState       binstruct.U8           `bin:"off=0x58, siz=0x1"`
	MigrType        binstruct.U8           `bin:"off=0x59, siz=0x1"`
	Dirty           binstruct.U8           `bin:"off=0x5a, siz=0x1"`
	VolFill         [1]byte                `bin:"off=0x5b, siz=0x1"`
	VolFiller       [5]binstruct.U32le     `bin:"off=0x5c, siz=0x14"`
	PbaOfLba0       binstruct.U32le        `bin:"off=0x70, siz=0x4"`
	BlocksPerMember binstruct.U32le        `bin:"off=0x74, siz=0x4"`
	NumDataStripes  binstruct.U32le        `bin:"off=0x78, siz=0x4"`
	BlocksPerStrip  binstruct.U16le        `bin:"off=0x7c, siz=0x2"`
	MapState        binstruct.U8           `bin:"off=0x7e, siz=0x1"`
	RaidLevel       binstruct.U8           `bin:"off=0x7f, siz=0x1"`
	NumMembers      binstruct.U8           `bin:"off=0x80, siz=0x1"`
	MapReserved     [3]byte                `bin:"off=0x81, siz=0x3"`
	MapFiller       [7]binstruct.U32le     `bin:"off=0x84, siz=0x1c"`
	binstruct.End   `bin:"off=0xa0"`
}

// Format implements raidfmt.Format for Intel ISW metadata.
type Format struct{}

var (
	_ raidfmt.Format       = Format{}
	_ raidfmt.DevSorter    = Format{}
	_ raidfmt.EventHandler = Format{}
)

func (Format) Name() string { return "isw" }

func metadataOffset(sectors raidvol.Sector) raidvol.Sector {
	return (sectors - 2)
}

func readHeader(ctx context.Context, disk *raidvol.DiskInfo) (*Header, []byte, error) {
	sectors := disk.Sectors()
	if sectors < 2 {
		return nil, nil, fmt.Errorf("isw: %s: too small to hold metadata", disk.Path)
	}
	off := metadataOffset(sectors)

	buf := make([]byte, binstruct.StaticSize(Header{}))
	if _, err := disk.File().ReadAt(buf, off); err != nil {
		return nil, nil, fmt.Errorf("isw: %s: %w", disk.Path, err)
	}
	var hdr Header
	if _, err := binstruct.Unmarshal(buf, &hdr); err != nil {
		return nil, nil, fmt.Errorf("isw: %s: %w", disk.Path, err)
	}
	if !bytes.Equal(bytes.TrimRight(hdr.Sig[:], "\x00"), []byte(Signature)) {
		return nil, nil, fmt.Errorf("isw: %s: not an ISW signature", disk.Path)
	}

	mpb := make([]byte, hdr.MpbSize)
	if _, err := disk.File().ReadAt(mpb, off); err != nil {
		return nil, nil, fmt.Errorf("isw: %s: %w", disk.Path, err)
	}
	return &hdr, mpb, nil
}

func (Format) Probe(ctx context.Context, disk *raidvol.DiskInfo) (bool, error) {
	_, _, err := readHeader(ctx, disk)
	return err == nil, nil //nolint:nilerr // Probe reports non-membership via (false, nil).
}

// checksum reproduces isw.c's compute_checksum(): the 32-bit sum,
// modulo 2**32, of every little-endian uint32 word in the mpb *except*
// the check_sum field itself (which is zeroed for the purpose of the
// sum in the original).
func checksum(mpb []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(mpb); i += 4 {
		if i == 0x20 { // offsetof(struct isw, check_sum)
			continue
		}
		sum += binary.LittleEndian.Uint32(mpb[i : i+4])
	}
	return sum
}

func (Format) Read(ctx context.Context, disk *raidvol.DiskInfo) ([]*raidvol.RaidSet, error) {
	hdr, mpb, err := readHeader(ctx, disk)
	if err != nil {
		return nil, err
	}
	if checksum(mpb) != uint32(hdr.CheckSum) {
		return nil, fmt.Errorf("isw: %s: checksum mismatch (got %#x, want %#x)", disk.Path, checksum(mpb), uint32(hdr.CheckSum))
	}

	cur := binstruct.NewCursor(mpb)
	cur.Seek(binstruct.StaticSize(Header{}))

	disks := make([]DiskEntry, hdr.NumDisks)
	myIndex := -1
	for i := range disks {
		if err := cur.Next(&disks[i]); err != nil {
			return nil, fmt.Errorf("isw: %s: disk table entry %d: %w", disk.Path, i, err)
		}
		if string(bytes.TrimRight(disks[i].Serial[:], "\x00")) == disk.Serial {
			myIndex = i
		}
	}

	var sets []*raidvol.RaidSet
	for i := 0; i < int(hdr.NumRaidDevs); i++ {
		var dv devFixed
		if err := cur.Next(&dv); err != nil {
			return nil, fmt.Errorf("isw: %s: raid dev %d: %w", disk.Path, i, err)
		}
		ordTbl, err := cur.Bytes(int(dv.NumMembers) * 4)
		if err != nil {
			return nil, fmt.Errorf("isw: %s: raid dev %d disk_ord_tbl: %w", disk.Path, i, err)
		}

		name := fmt.Sprintf("isw_%s_%s", familyName(hdr.FamilyNum), alphabetize(string(bytes.TrimRight(dv.Volume[:], "\x00"))))

		typ := raidprim.TypeLinear
		switch dv.RaidLevel {
		case raidLevel0:
			typ = raidprim.TypeRaid0
		case raidLevel1:
			typ = raidprim.TypeRaid1
		case raidLevel5:
			typ = raidprim.TypeRaid5LA
		}

		size := raidvol.Sector(uint64(dv.SizeLow) | uint64(dv.SizeHigh)<<32)
		var children []*raidvol.RaidSet
		for m := 0; m < int(dv.NumMembers); m++ {
			ord := binary.LittleEndian.Uint32(ordTbl[m*4 : m*4+4])
			diskIdx := int(ord & 0x00ffffff) // top byte is reserved for flags, per isw.h's disk_ord_tbl comment
			if diskIdx != myIndex {
				continue // this disk only describes its own member slot directly
			}
			rd := &raidvol.RaidDev{
				Disk:   disk,
				Index:  diskIdx,
				Offset: raidvol.Sector(dv.PbaOfLba0),
				Size:   size / raidvol.Sector(dv.NumMembers),
				Type:   typ,
				Status: devStatus(dv.MapState),
			}
			children = append(children, raidvol.NewLeafSet(fmt.Sprintf("%s_dev%d", name, diskIdx), rd))
		}
		if len(children) == 0 {
			continue
		}
		rs, err := raidvol.NewGroupSet(name, typ, children...)
		if err != nil {
			return nil, fmt.Errorf("isw: %s: raid dev %d: %w", disk.Path, i, err)
		}
		rs.ChunkSize = raidvol.SectorDelta(dv.BlocksPerStrip)
		rs.ExpectedMembers = int(dv.NumMembers)
		sets = append(sets, rs)
	}
	return sets, nil
}

func devStatus(mapState binstruct.U8) raidprim.Status {
	switch mapState {
	case 0:
		return raidprim.StatusOK
	case 1:
		return raidprim.StatusInconsistent
	default:
		return raidprim.StatusNosync
	}
}

// familyName formats the family number the way isw.c's name() does,
// as an 8-digit hex string.
func familyName(family binstruct.U32le) string {
	return fmt.Sprintf("%08x", uint32(family))
}

// alphabetize mirrors isw.c's optional mk_alpha() label transform,
// mapping each hex digit to a letter so that generated names read as
// words instead of raw hex (spec.md §4.1, "a per-plug-in policy").
func alphabetize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			out[i] = 'a' + (c - '0')
		default:
			out[i] = c
		}
	}
	return string(out)
}

// SortKey implements raidfmt.DevSorter: the stable sort key is the
// disk's row index within the on-disk disk table, never a pointer
// (see DESIGN.md, Open Question (a)).
func (Format) SortKey(dev *raidvol.RaidDev) uint64 {
	return uint64(dev.Index)
}

// EventIO marks a member broken on a kernel-reported I/O error, after
// isw.c's event_io(). It changes only the in-memory status: it writes
// no metadata and does not report that a rewrite is needed.
func (Format) EventIO(ctx context.Context, dev *raidvol.RaidDev) error {
	dev.Status = raidprim.StatusBroken
	return nil
}

func (Format) Write(ctx context.Context, rs *raidvol.RaidSet, erase bool) error {
	return fmt.Errorf("isw: metadata write not implemented for set %q", rs.Name)
}
