// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidvol

import (
	"fmt"

	"github.com/datawire/dlib/derror"

	"github.com/lvmteam/dmraid-go/lib/raidprim"
)

// RaidDev is one disk's participation in a RaidSet: which disk, where
// its metadata and data regions sit, and what this format plug-in
// believes its role and health are. It corresponds to the original
// dmraid's struct raid_dev.
type RaidDev struct {
	Disk *DiskInfo

	// Index is this device's position within the set (stripe/mirror
	// slot number); it is also used as the stable sort key for
	// formats whose on-disk device table has no other ordering
	// field (see the ISW dev-sort decision in DESIGN.md).
	Index int

	Offset Sector // start of this member's data area, in sectors from disk 0
	Size   Sector // size of this member's data area, in sectors

	Type   raidprim.Type
	Status raidprim.Status
}

// RaidSet is a node in the reconstructed RAID topology tree: either a
// leaf holding a single RaidDev, or an internal node ("group") holding
// child RaidSets, the way a two-tier RAID10 stacks a raid0 set whose
// children are raid1 sets.
type RaidSet struct {
	Name   string
	Type   raidprim.Type
	Status raidprim.Status

	// ChunkSize is the stripe/region granularity in sectors; zero for
	// sets that don't stripe (linear, raid1, spare, partition).
	ChunkSize SectorDelta

	// Maximize requests spec.md §4.4's F_MAXIMIZE behavior for a raid0
	// set assembled from heterogeneous-sized members: buildStriped emits
	// one band per distinct member-size boundary instead of truncating
	// every member down to the smallest one's size.
	Maximize bool

	// ExpectedMembers is the member count a format plug-in read out of
	// an array's own metadata (ISW's dv.NumMembers; no other plug-in
	// sets it), independent of how many of those members were
	// actually found during discovery; zero means "not asserted by any
	// plug-in". group.Check compares this against len(Children) to
	// catch a member silently missing from discovery (spec.md §4.3's
	// "member count: expected vs. observed").
	ExpectedMembers int

	Dev      *RaidDev   // non-nil only for leaf sets
	Children []*RaidSet // non-nil only for group sets

	Parent *RaidSet
}

func NewLeafSet(name string, dev *RaidDev) *RaidSet {
	return &RaidSet{
		Name:   name,
		Type:   dev.Type,
		Status: dev.Status,
		Dev:    dev,
	}
}

// NewGroupSet assembles a new group set from children, the set's
// ChunkSize taken from whichever children already carry one
// (spec.md §3's "a set's stride is the stride of all its members").
// It is an error for two children to carry disagreeing nonzero
// ChunkSizes, since that means the grouper has folded together two
// members that can't actually belong to the same striped array.
func NewGroupSet(name string, typ raidprim.Type, children ...*RaidSet) (*RaidSet, error) {
	rs := &RaidSet{
		Name:     name,
		Type:     typ,
		Children: children,
	}
	for _, child := range children {
		child.Parent = rs
	}
	chunkSize, err := chunkSizeConsensus(0, children...)
	if err != nil {
		return nil, fmt.Errorf("raidvol: set %q: %w", name, err)
	}
	rs.ChunkSize = chunkSize
	for _, child := range children {
		rs.Maximize = rs.Maximize || child.Maximize
	}
	rs.Status = rs.computeStatus()
	return rs, nil
}

// IsLeaf reports whether this set wraps a single device rather than a
// list of child sets.
func (rs *RaidSet) IsLeaf() bool {
	return rs.Dev != nil
}

// AddChild appends a child set, reparenting it, folding its ChunkSize
// (see NewGroupSet) and status into the parent's. On a ChunkSize
// disagreement, child is not appended and rs is left unchanged.
func (rs *RaidSet) AddChild(child *RaidSet) error {
	chunkSize, err := chunkSizeConsensus(rs.ChunkSize, child)
	if err != nil {
		return fmt.Errorf("raidvol: set %q: %w", rs.Name, err)
	}
	child.Parent = rs
	rs.Children = append(rs.Children, child)
	rs.ChunkSize = chunkSize
	rs.Maximize = rs.Maximize || child.Maximize
	rs.Status = rs.computeStatus()
	return nil
}

// chunkSizeConsensus folds base and every non-zero child.ChunkSize
// into a single agreed value, zero meaning "no stripe granularity
// asserted yet". Two different nonzero values is a hard error.
func chunkSizeConsensus(base SectorDelta, children ...*RaidSet) (SectorDelta, error) {
	for _, child := range children {
		if child.ChunkSize == 0 {
			continue
		}
		switch {
		case base == 0:
			base = child.ChunkSize
		case base != child.ChunkSize:
			return 0, fmt.Errorf("conflicting chunk sizes %d and %d among set members", base, child.ChunkSize)
		}
	}
	return base, nil
}

// Degrade folds worst into rs's own Status (never improving it) and
// then re-rolls every ancestor's Status up the tree, so a validation
// pass that mutates a set's Status well after construction (e.g.
// group.Check's member-count comparison) doesn't leave a stale, more
// optimistic Status cached on that set's parents.
func (rs *RaidSet) Degrade(worst raidprim.Status) {
	rs.Status = rs.Status.Worst(worst)
	for p := rs.Parent; p != nil; p = p.Parent {
		p.Status = p.computeStatus()
	}
}

// RemoveChild detaches child from rs's children list, if present, and
// recomputes rs's status from what remains.
func (rs *RaidSet) RemoveChild(child *RaidSet) {
	for i, c := range rs.Children {
		if c == child {
			rs.Children = append(rs.Children[:i], rs.Children[i+1:]...)
			child.Parent = nil
			rs.Status = rs.computeStatus()
			return
		}
	}
}

// computeStatus implements spec.md §4.3's set-status rollup: if any
// child is ok or inconsistent, the parent is at worst inconsistent
// (not broken, even when some other child is fully broken); if every
// child is broken, the parent is broken; if every child is ok, the
// parent is ok. This is deliberately not a linear "worst status wins"
// max over children — a 2-member striped set with one ok and one
// broken member must come out inconsistent, not broken, so that
// group.Check keeps it (with the bad member mapped to the error
// target) instead of dropping the whole set.
func (rs *RaidSet) computeStatus() raidprim.Status {
	if len(rs.Children) == 0 {
		return raidprim.StatusOK
	}

	allOK := true
	allBroken := true
	anyOKOrInconsistent := false
	var worst raidprim.Status
	for i, child := range rs.Children {
		if child.Status != raidprim.StatusOK {
			allOK = false
		}
		if child.Status != raidprim.StatusBroken {
			allBroken = false
		}
		if child.Status == raidprim.StatusOK || child.Status == raidprim.StatusInconsistent {
			anyOKOrInconsistent = true
		}
		if i == 0 {
			worst = child.Status
		} else {
			worst = worst.Worst(child.Status)
		}
	}

	switch {
	case allOK:
		return raidprim.StatusOK
	case allBroken:
		return raidprim.StatusBroken
	case anyOKOrInconsistent:
		// Bounded at inconsistent regardless of how bad the worst
		// child is, unless nothing worse than nosync is present (an
		// ok/nosync mix stays nosync, reflecting an in-progress
		// resync rather than a topology failure).
		if worst == raidprim.StatusNosync {
			return worst
		}
		return raidprim.StatusInconsistent
	default:
		// No child is ok, inconsistent, or all-broken (e.g. a
		// nosync/broken mix with no ok member) — fall back to the
		// generic severity order.
		return worst
	}
}

// TotalSectors computes this set's usable size bottom-up, the same
// three-shape rule the original dmraid's total_sectors() uses:
// mirrors take the smallest member, stripes/linear take the sum, and
// raid4/5/6 take the sum minus one (or two, for raid6) member's worth.
func (rs *RaidSet) TotalSectors() Sector {
	if rs.IsLeaf() {
		return rs.Dev.Size
	}
	if len(rs.Children) == 0 {
		return 0
	}

	switch rs.Type {
	case raidprim.TypeRaid1:
		return smallest(rs.Children)
	case raidprim.TypeRaid4, raidprim.TypeRaid5LS, raidprim.TypeRaid5RS,
		raidprim.TypeRaid5LA, raidprim.TypeRaid5RA:
		small := smallest(rs.Children)
		return small * Sector(len(rs.Children)-1)
	case raidprim.TypeRaid6:
		small := smallest(rs.Children)
		return small * Sector(len(rs.Children)-2)
	default: // linear, raid0, group, partition
		var sum Sector
		for _, child := range rs.Children {
			sum += child.TotalSectors()
		}
		return sum
	}
}

func smallest(children []*RaidSet) Sector {
	min := children[0].TotalSectors()
	for _, child := range children[1:] {
		if s := child.TotalSectors(); s < min {
			min = s
		}
	}
	return min
}

// Disks returns every leaf RaidDev reachable from this set, in a
// stable depth-first order.
func (rs *RaidSet) Disks() []*RaidDev {
	if rs.IsLeaf() {
		return []*RaidDev{rs.Dev}
	}
	var out []*RaidDev
	for _, child := range rs.Children {
		out = append(out, child.Disks()...)
	}
	return out
}

// Walk calls fn for this set and every descendant, children before
// parents (the order activation needs).
func (rs *RaidSet) Walk(fn func(*RaidSet) error) error {
	var errs derror.MultiError
	for _, child := range rs.Children {
		if err := child.Walk(fn); err != nil {
			errs = append(errs, err)
		}
	}
	if err := fn(rs); err != nil {
		errs = append(errs, err)
	}
	if errs != nil {
		return errs
	}
	return nil
}

func (rs *RaidSet) String() string {
	return rs.Name
}
