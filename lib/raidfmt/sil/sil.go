// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sil implements the Silicon Image (SiI) BIOS-RAID metadata
// format as an instance of lib/raidfmt/simplefmt's generic engine; see
// that package's doc comment for why this family shares one engine.
package sil

import (
	"github.com/lvmteam/dmraid-go/lib/raidfmt/simplefmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
)

// Format is the Silicon Image plug-in; its signature block sits in the
// disk's last sector.
var Format = simplefmt.Format{Spec: simplefmt.Spec{
	HandlerName: "sil",
	Signature:   []byte("Sil     "),
	Locate:      simplefmt.LastSector,
	Types: simplefmt.RaidTypeTable{
		0: raidprim.TypeRaid0,
		1: raidprim.TypeRaid1,
		2: raidprim.TypeLinear,
	},
}}
