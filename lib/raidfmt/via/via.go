// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package via implements the VIA Tech BIOS-RAID metadata format as an
// instance of lib/raidfmt/simplefmt's generic engine; see that
// package's doc comment for why this family shares one engine.
package via

import (
	"github.com/lvmteam/dmraid-go/lib/raidfmt/simplefmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
)

// Format is the VIA plug-in; its signature block sits in the disk's
// last sector.
var Format = simplefmt.Format{Spec: simplefmt.Spec{
	HandlerName: "via",
	Signature:   []byte("VIA RAI "),
	Locate:      simplefmt.LastSector,
	Types: simplefmt.RaidTypeTable{
		0: raidprim.TypeRaid0,
		1: raidprim.TypeRaid1,
		3: raidprim.TypeLinear,
	},
}}
