// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package jmicron implements the JMicron BIOS-RAID metadata format as
// an instance of lib/raidfmt/simplefmt's generic engine; see that
// package's doc comment for why this family shares one engine.
package jmicron

import (
	"github.com/lvmteam/dmraid-go/lib/raidfmt/simplefmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
)

// Format is the JMicron plug-in; its signature block sits in the
// disk's last sector.
var Format = simplefmt.Format{Spec: simplefmt.Spec{
	HandlerName: "jmicron",
	Signature:   []byte("JMCRAID "),
	Locate:      simplefmt.LastSector,
	Types: simplefmt.RaidTypeTable{
		0: raidprim.TypeRaid0,
		1: raidprim.TypeRaid1,
		2: raidprim.TypeLinear,
		3: raidprim.TypeSpare,
	},
}}
