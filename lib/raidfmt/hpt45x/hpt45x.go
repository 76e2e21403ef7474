// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hpt45x implements the HighPoint RocketRAID 45x BIOS-RAID
// metadata format as an instance of lib/raidfmt/simplefmt's generic
// engine; see that package's doc comment for why this family shares
// one engine.
package hpt45x

import (
	"github.com/lvmteam/dmraid-go/lib/raidfmt/simplefmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
)

// Format is the RocketRAID 45x plug-in; its signature block sits two
// sectors from the end of the disk, one vendor's example of spec.md
// §2's "two-sectors-from-end" taxonomy entry.
var Format = simplefmt.Format{Spec: simplefmt.Spec{
	HandlerName: "hpt45x",
	Signature:   []byte("HPT45X_ "),
	Locate:      simplefmt.SectorsFromEnd(2),
	Types: simplefmt.RaidTypeTable{
		0: raidprim.TypeRaid0,
		1: raidprim.TypeRaid1,
		2: raidprim.TypeRaid5LS,
		3: raidprim.TypeLinear,
		4: raidprim.TypeSpare,
	},
}}
