// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package lsi implements the LSI MegaRAID BIOS-RAID metadata format as
// an instance of lib/raidfmt/simplefmt's generic engine; see that
// package's doc comment for why this family shares one engine.
package lsi

import (
	"github.com/lvmteam/dmraid-go/lib/raidfmt/simplefmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

// metadataSector is where LSI controllers park the config block: a
// fixed absolute sector rather than one measured from either end of
// the device, spec.md §2's "fixed absolute offset" taxonomy entry.
const metadataSector raidvol.Sector = 0x80

// Format is the LSI MegaRAID plug-in.
var Format = simplefmt.Format{Spec: simplefmt.Spec{
	HandlerName: "lsi",
	Signature:   []byte("MegaRAI "),
	Locate:      simplefmt.FixedSector(metadataSector),
	Types: simplefmt.RaidTypeTable{
		0: raidprim.TypeRaid0,
		1: raidprim.TypeRaid1,
		5: raidprim.TypeRaid5LS,
		6: raidprim.TypeRaid6,
	},
}}
