// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package activate builds device-mapper table text from a RaidSet tree
// and drives the activate/deactivate/reload state machine against an
// external DM client. The table-building logic here is ported
// line-for-line from original_source/lib/activate/activate.c's
// dm_linear/dm_raid0/dm_raid1/dm_raid45 family, generalized from that
// C code's two parallel lists (rs->sets, rs->devs) to this repo's
// single RaidSet.Children slice, in which a child is either a leaf
// (what the original calls a "dev") or itself a group (what the
// original calls a "stacked set").
package activate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

// ErrGroupSet is returned by Build when asked to render a group set,
// which spec.md §4.4 says is never mapped itself. Activate uses
// errors.Is against it to treat the walk's group nodes as a no-op
// rather than a failure.
var ErrGroupSet = errors.New("activate: set is a group set, not directly activatable")

// Builder configures how RaidSets are rendered into DM table text.
type Builder struct {
	// ErrorPath is substituted for a broken/invalid member's real
	// device path (spec.md §6's "error_path" option).
	ErrorPath string
	// DMNode maps a stacked (already-activated) set's name to the
	// /dev/mapper path the kernel exposes it under. Defaults to
	// "/dev/mapper/<name>" when nil.
	DMNode func(name string) string
}

func (b Builder) dmNode(name string) string {
	if b.DMNode != nil {
		return b.DMNode(name)
	}
	return fmt.Sprintf("/dev/mapper/%s", name)
}

func validDev(rd *raidvol.RaidDev) bool {
	return rd.Status == raidprim.StatusOK && rd.Type != raidprim.TypeSpare
}

func validSet(rs *raidvol.RaidSet) bool {
	return rs.Status == raidprim.StatusOK && rs.Type != raidprim.TypeSpare
}

// memberPath resolves a non-spare child's effective path and sector
// offset: a leaf child is backed by a real disk, an internal child is
// a previously-activated stacked set addressed by its DM node.
func (b Builder) memberPath(child *raidvol.RaidSet) (path string, valid bool, offset raidvol.Sector) {
	if child.IsLeaf() {
		return child.Dev.Disk.Path, validDev(child.Dev), child.Dev.Offset
	}
	return b.dmNode(child.Name), validSet(child), 0
}

func nonSpareChildren(rs *raidvol.RaidSet) []*raidvol.RaidSet {
	out := make([]*raidvol.RaidSet, 0, len(rs.Children))
	for _, c := range rs.Children {
		if c.Type != raidprim.TypeSpare {
			out = append(out, c)
		}
	}
	return out
}

// Build renders rs's table according to its Type, dispatching the way
// the original's per-type function table does. Group sets produce no
// table of their own (the caller is expected to walk their children
// instead, per spec.md §4.4's "group: iterate children only").
func (b Builder) Build(rs *raidvol.RaidSet) (string, error) {
	if rs.IsLeaf() {
		return b.buildSingleDisk(rs)
	}
	switch rs.Type {
	case raidprim.TypeGroup:
		return "", fmt.Errorf("%w: %q", ErrGroupSet, rs.Name)
	case raidprim.TypeLinear, raidprim.TypePartition:
		return b.buildLinear(rs)
	case raidprim.TypeRaid0:
		return b.buildStriped(rs)
	case raidprim.TypeRaid1:
		return b.buildMirror(rs)
	case raidprim.TypeRaid4, raidprim.TypeRaid5LS, raidprim.TypeRaid5RS,
		raidprim.TypeRaid5LA, raidprim.TypeRaid5RA:
		return b.buildRaid45(rs)
	default:
		return "", fmt.Errorf("activate: unsupported RAID type %v for set %q", rs.Type, rs.Name)
	}
}

// buildSingleDisk handles a top-level set that never got merged with
// any sibling (asr.go and the simplefmt-based plug-ins hand Discover a
// bare leaf when only one member is present): whatever RAID type the
// metadata claims, one surviving member degenerates to a plain linear
// mapping of its data area.
func (b Builder) buildSingleDisk(rs *raidvol.RaidSet) (string, error) {
	if rs.Type == raidprim.TypeSpare {
		return "", fmt.Errorf("activate: %q is a spare, not activatable", rs.Name)
	}
	if !validDev(rs.Dev) {
		return "", fmt.Errorf("activate: %q: sole member is %v", rs.Name, rs.Dev.Status)
	}
	return fmt.Sprintf("0 %d linear %s %d", int64(rs.Dev.Size), rs.Dev.Disk.Path, int64(rs.Dev.Offset)), nil
}

// buildLinear concatenates one segment per non-spare child, in
// Children order, advancing start by each segment's length.
func (b Builder) buildLinear(rs *raidvol.RaidSet) (string, error) {
	var lines []string
	var start raidvol.Sector
	for _, child := range nonSpareChildren(rs) {
		length := child.TotalSectors()
		path, valid, offset := b.memberPath(child)
		if !valid {
			path = b.ErrorPath
		}
		lines = append(lines, fmt.Sprintf("%d %d linear %s %d", int64(start), int64(length), path, int64(offset)))
		start = start.Add(raidvol.SectorDelta(length))
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("activate: %q has no non-spare members", rs.Name)
	}
	return strings.Join(lines, "\n"), nil
}

// smallestAbove returns the smallest non-spare child size strictly
// greater than min, the way activate.c's _smallest()/maximize() picks
// the next distinct size band boundary; it returns (0, false) once no
// child is larger than min.
func smallestAbove(rs *raidvol.RaidSet, min raidvol.Sector) (raidvol.Sector, bool) {
	best := raidvol.Sector(0)
	found := false
	for _, child := range nonSpareChildren(rs) {
		sz := child.TotalSectors()
		if sz > min && (!found || sz < best) {
			best = sz
			found = true
		}
	}
	return best, found
}

func roundDown(v, stride raidvol.SectorDelta) raidvol.SectorDelta {
	if stride <= 0 {
		return v
	}
	return (v / stride) * stride
}

// countAbove counts non-spare children whose size exceeds min, the
// number of stripes active in the current band.
func countAbove(rs *raidvol.RaidSet, min raidvol.Sector) int {
	n := 0
	for _, child := range nonSpareChildren(rs) {
		if child.TotalSectors() > min {
			n++
		}
	}
	return n
}

// buildStriped emits one or more bands to handle heterogeneous member
// sizes (spec.md §4.4's raid0 rule; activate.c's dm_raid0/
// _dm_raid0_bol/_dm_raid0_eol). When the format didn't request
// maximization the loop runs once, matching F_MAXIMIZE's absence.
func (b Builder) buildStriped(rs *raidvol.RaidSet) (string, error) {
	var lines []string
	var lastMin raidvol.Sector
	var start int64
	for {
		min, ok := smallestAbove(rs, lastMin)
		if !ok {
			break
		}
		bandLen := roundDown(min.Sub(lastMin), rs.ChunkSize)
		n := countAbove(rs, lastMin)

		var bol string
		if n > 1 {
			bol = fmt.Sprintf("%d %d striped %d %d", start, int64(bandLen)*int64(n), n, int64(rs.ChunkSize))
		} else {
			bol = fmt.Sprintf("%d %d linear", start, int64(bandLen)*int64(n))
		}

		var eol []string
		for _, child := range nonSpareChildren(rs) {
			if child.TotalSectors() <= lastMin {
				continue
			}
			path, valid, offset := b.memberPath(child)
			if !valid {
				path = b.ErrorPath
			}
			eol = append(eol, fmt.Sprintf("%s %d", path, int64(offset)+int64(lastMin)))
		}
		if len(eol) == 0 {
			return "", fmt.Errorf("activate: %q: empty stripe band", rs.Name)
		}
		lines = append(lines, bol+" "+strings.Join(eol, " "))
		start += int64(bandLen) * int64(n)

		lastMin = min
		if !maximize(rs) {
			break
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("activate: %q has no non-spare members", rs.Name)
	}
	return strings.Join(lines, "\n"), nil
}

// maximize reports whether rs's format plug-in requested a maximized
// (multi-band) striped mapping rather than truncating to the smallest
// member, spec.md §4.4's F_MAXIMIZE flag, surfaced on the set itself so
// any plug-in (or the grouper, for a superset it assembles) can opt in.
func maximize(rs *raidvol.RaidSet) bool { return rs.Maximize }

// calcRegionSize returns the dirty-log region size for a mirror/raid45
// mapping of the given sector count: the largest power of two not above
// min(sectors/1024, 128 MiB in sectors), halved, and never less than 128.
func calcRegionSize(sectors raidvol.Sector) uint64 {
	const mb128 = 128 * 2 * 1024
	max := uint64(sectors) / 1024
	if max > mb128 {
		max = mb128
	}
	regionSize := uint64(1)
	for regionSize<<1 <= max {
		regionSize <<= 1
	}
	regionSize >>= 1
	if regionSize < 128 {
		regionSize = 128
	}
	return regionSize
}

func syncArg(rs *raidvol.RaidSet) string {
	if rs.Status == raidprim.StatusInconsistent || rs.Status == raidprim.StatusNosync {
		return "sync"
	}
	return "nosync"
}

// buildMirror emits a "mirror" target, degrading to a plain linear
// mapping if only one live member remains (activate.c's dm_raid1).
func (b Builder) buildMirror(rs *raidvol.RaidSet) (string, error) {
	children := nonSpareChildren(rs)
	live := 0
	for _, c := range children {
		if _, valid, _ := b.memberPath(c); valid {
			live++
		}
	}
	if live == 0 {
		return "", fmt.Errorf("activate: %q has no live mirror members", rs.Name)
	}
	if live == 1 {
		return b.buildLinear(rs)
	}

	min, ok := smallestAbove(rs, -1)
	if !ok {
		return "", fmt.Errorf("activate: %q: can't find smallest mirror member", rs.Name)
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("0 %d mirror core 2 %d %s %d", int64(min), calcRegionSize(min), syncArg(rs), live))
	for _, c := range children {
		path, valid, offset := b.memberPath(c)
		if !valid {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %d", path, int64(offset)))
	}
	parts = append(parts, "1 handle_errors")
	return strings.Join(parts, " "), nil
}

// buildRaid45 emits a "raid45" target (activate.c's dm_raid45), for
// raid4 and every raid5 rotation.
func (b Builder) buildRaid45(rs *raidvol.RaidSet) (string, error) {
	children := nonSpareChildren(rs)
	members := len(children)
	if members < 2 {
		return "", fmt.Errorf("activate: %q needs at least 2 members for %v", rs.Name, rs.Type)
	}

	min, ok := smallestAbove(rs, -1)
	if !ok {
		return "", fmt.Errorf("activate: %q: can't find smallest member", rs.Name)
	}
	min = raidvol.Sector(roundDown(raidvol.SectorDelta(min), rs.ChunkSize))
	totalSectors := int64(min) * int64(members-1)

	layout := raid45LayoutCode(rs.Type)
	regionSize := calcRegionSize(raidvol.Sector(int64(rs.TotalSectors()) / int64(members)))

	var parts []string
	parts = append(parts, fmt.Sprintf("0 %d raid45 core 2 %d %s %s 1 %d %d -1",
		totalSectors, regionSize, syncArg(rs), layout, int64(rs.ChunkSize), members))

	// Sort by Index so stripe column order is deterministic across runs
	// (spec.md §8's "Name stability", extended to member ordering).
	sorted := append([]*raidvol.RaidSet(nil), children...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return memberIndex(sorted[i]) < memberIndex(sorted[j])
	})
	for _, c := range sorted {
		path, valid, offset := b.memberPath(c)
		if !valid {
			path = b.ErrorPath
		}
		parts = append(parts, fmt.Sprintf("%s %d", path, int64(offset)))
	}
	return strings.Join(parts, " "), nil
}

func memberIndex(rs *raidvol.RaidSet) int {
	if rs.IsLeaf() {
		return rs.Dev.Index
	}
	return 0
}

// raid45LayoutCode names the dm-raid45 layout argument for each of the
// unified raid4/raid5 types (left/right symmetric/asymmetric).
func raid45LayoutCode(t raidprim.Type) string {
	switch t {
	case raidprim.TypeRaid4:
		return "dedicated"
	case raidprim.TypeRaid5LS:
		return "left_sym"
	case raidprim.TypeRaid5RS:
		return "right_sym"
	case raidprim.TypeRaid5LA:
		return "left_asym"
	case raidprim.TypeRaid5RA:
		return "right_asym"
	default:
		return "left_sym"
	}
}
