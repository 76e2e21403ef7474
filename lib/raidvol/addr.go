// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidvol

import (
	"fmt"

	"github.com/lvmteam/dmraid-go/lib/fmtutil"
)

// Sector is a 512-byte-sector offset, either into a single block device
// or (when paired with a DeviceID) into a member of a RAID set.
type Sector int64

// SectorDelta is a difference between two Sectors, e.g. a region size
// or a stripe's chunk size.
type SectorDelta int64

func formatSector(addr int64, f fmt.State, verb rune) {
	switch verb {
	case 'v', 's', 'q':
		str := fmt.Sprintf("%#016x", addr)
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), str)
	default:
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), addr)
	}
}

func (a Sector) Format(f fmt.State, verb rune)      { formatSector(int64(a), f, verb) }
func (d SectorDelta) Format(f fmt.State, verb rune) { formatSector(int64(d), f, verb) }

func (a Sector) Sub(b Sector) SectorDelta { return SectorDelta(a - b) }
func (a Sector) Add(b SectorDelta) Sector { return a + Sector(b) }

// DeviceID identifies one physical disk within a RaidSet's arena; it is
// an arena-local index, not a kernel major:minor or a vendor serial.
type DeviceID uint64

// QualifiedSector is a (disk, offset) pair, the unit that dm table
// lines and metadata-area lookups are expressed in.
type QualifiedSector struct {
	Dev  DeviceID
	Addr Sector
}

func (a QualifiedSector) Add(b SectorDelta) QualifiedSector {
	return QualifiedSector{
		Dev:  a.Dev,
		Addr: a.Addr.Add(b),
	}
}

func (a QualifiedSector) Compare(b QualifiedSector) int {
	if d := int(a.Dev) - int(b.Dev); d != 0 {
		return d
	}
	return int(a.Addr - b.Addr)
}
