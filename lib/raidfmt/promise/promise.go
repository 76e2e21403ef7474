// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package promise implements the Promise FastTrak BIOS-RAID metadata
// format as an instance of lib/raidfmt/simplefmt's generic engine; see
// that package's doc comment for why this family shares one engine.
package promise

import (
	"github.com/lvmteam/dmraid-go/lib/raidfmt/simplefmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
)

// Format is the Promise FastTrak plug-in; its signature block sits in
// the disk's last sector (spec.md §2's "last sector" taxonomy entry).
var Format = simplefmt.Format{Spec: simplefmt.Spec{
	HandlerName: "promise",
	Signature:   []byte("Promise "),
	Locate:      simplefmt.LastSector,
	Types: simplefmt.RaidTypeTable{
		0: raidprim.TypeRaid0,
		1: raidprim.TypeRaid1,
		2: raidprim.TypeRaid4,
		3: raidprim.TypeRaid5LS,
		4: raidprim.TypeLinear,
		5: raidprim.TypeSpare,
	},
	// FastTrak's BIOS lets a raid0 array be built from differently
	// sized disks, striping in successive size bands rather than
	// rejecting the mismatch (spec.md §4.4's F_MAXIMIZE).
	Maximize: true,
}}
