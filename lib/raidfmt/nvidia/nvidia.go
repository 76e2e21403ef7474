// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package nvidia implements the NVIDIA MediaShield BIOS-RAID metadata
// format as an instance of lib/raidfmt/simplefmt's generic engine; see
// that package's doc comment for why this family shares one engine.
package nvidia

import (
	"github.com/lvmteam/dmraid-go/lib/raidfmt/simplefmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
)

// Format is the NVIDIA MediaShield plug-in; its signature block sits
// in the disk's last sector.
var Format = simplefmt.Format{Spec: simplefmt.Spec{
	HandlerName: "nvidia",
	Signature:   []byte("NVIDIA  "),
	Locate:      simplefmt.LastSector,
	Types: simplefmt.RaidTypeTable{
		0: raidprim.TypeRaid0,
		1: raidprim.TypeRaid1,
		5: raidprim.TypeRaid5LS,
		8: raidprim.TypeSpare,
	},
}}
