// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidprim

import "fmt"

// Type is the unified RAID-set type, shared by every format plug-in so
// that grouping and table synthesis don't need to know which vendor
// metadata a RaidDev came from.
type Type uint8

const (
	TypeUndef Type = iota
	TypeGroup
	TypePartition
	TypeSpare
	TypeLinear
	TypeRaid0
	TypeRaid1
	TypeRaid4
	TypeRaid5LS
	TypeRaid5RS
	TypeRaid5LA
	TypeRaid5RA
	TypeRaid6
)

var typeNames = map[Type]string{
	TypeUndef:     "undef",
	TypeGroup:     "group",
	TypePartition: "partition",
	TypeSpare:     "spare",
	TypeLinear:    "linear",
	TypeRaid0:     "raid0",
	TypeRaid1:     "raid1",
	TypeRaid4:     "raid4",
	TypeRaid5LS:   "raid5_ls",
	TypeRaid5RS:   "raid5_rs",
	TypeRaid5LA:   "raid5_la",
	TypeRaid5RA:   "raid5_ra",
	TypeRaid6:     "raid6",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// IsRaid45 reports whether t is one of the four raid4/raid5 rotation
// variants that the "raid45" dm-target covers.
func (t Type) IsRaid45() bool {
	switch t {
	case TypeRaid4, TypeRaid5LS, TypeRaid5RS, TypeRaid5LA, TypeRaid5RA:
		return true
	default:
		return false
	}
}

// Status is the unified RAID-set health status.
type Status uint8

const (
	StatusUndef Status = iota
	StatusSetup
	StatusBroken
	StatusInconsistent
	StatusNosync
	StatusOK
)

var statusNames = map[Status]string{
	StatusUndef:        "undef",
	StatusSetup:        "setup",
	StatusBroken:       "broken",
	StatusInconsistent: "inconsistent",
	StatusNosync:       "nosync",
	StatusOK:           "ok",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Worst returns the more severe of two statuses, used when folding a
// RaidSet's status up from its children: broken beats inconsistent
// beats nosync beats ok, and setup/undef are placeholders that never
// win against a real status.
func (s Status) Worst(o Status) Status {
	rank := func(x Status) int {
		switch x {
		case StatusBroken:
			return 5
		case StatusInconsistent:
			return 4
		case StatusNosync:
			return 3
		case StatusOK:
			return 2
		case StatusSetup:
			return 1
		default:
			return 0
		}
	}
	if rank(o) > rank(s) {
		return o
	}
	return s
}
