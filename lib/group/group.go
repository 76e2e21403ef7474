// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package group implements the grouper: it walks every disk's
// per-plug-in RaidSet view and folds the views that describe the same
// array (same plug-in, same set name) into one RaidSet tree, stacking
// a superset when a vendor array is two-tier, then runs a per-set
// member-count check. Grounded on
// original_source/lib/metadata/metadata.c's group()/check() walk
// (probe every disk, group each RaidDev into its set, then check every
// set before returning it to the caller) and on the teacher's
// lib/btrfsutil graph-walk idiom for the merge step.
package group

import (
	"context"
	"fmt"
	"time"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"github.com/lvmteam/dmraid-go/lib/maps"
	"github.com/lvmteam/dmraid-go/lib/raidfmt"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
	"github.com/lvmteam/dmraid-go/lib/textui"
)

// discoverStats is Discover's progress snapshot, reported the way
// scandevices.go's scanStats reports a btrfs device scan's progress.
type discoverStats struct {
	NumDisks     int
	NumProbed    int
	NumClaimed   int
	NumFoundSets int
}

func (s discoverStats) String() string {
	return fmt.Sprintf("... probed %d/%d disks (%d claimed by a format, %d sets found so far)",
		s.NumProbed, s.NumDisks, s.NumClaimed, s.NumFoundSets)
}

// Grouper discovers and assembles RaidSets from a collection of disks.
type Grouper struct {
	Registry *raidfmt.Registry
}

func New(registry *raidfmt.Registry) *Grouper {
	return &Grouper{Registry: registry}
}

// Discover probes every disk against the registry, reads whichever
// format claims it, and merges the resulting per-disk RaidSet views
// into a final set of top-level RaidSets (sorted by name for
// deterministic output; see spec.md §8's "Name stability" property).
// A disk that matches no format, or whose format's Probe succeeds but
// Read fails ("signature-but-corrupt"), is logged and skipped rather
// than aborting discovery for the other disks.
func (g *Grouper) Discover(ctx context.Context, disks []*raidvol.DiskInfo) ([]*raidvol.RaidSet, error) {
	ctx = WithSupersets(ctx)
	byName := map[string]*raidvol.RaidSet{}
	var errs derror.MultiError

	progress := textui.NewProgress[discoverStats](ctx, dlog.LogLevelInfo, 1*time.Second)
	defer progress.Done()
	report := func(probed, claimed int) {
		progress.Set(discoverStats{
			NumDisks:     len(disks),
			NumProbed:    probed,
			NumClaimed:   claimed,
			NumFoundSets: len(byName),
		})
	}

	var numClaimed int
	for i, disk := range disks {
		fmtHandler, err := g.Registry.Probe(ctx, disk)
		if err != nil {
			errs = append(errs, fmt.Errorf("group: probing %s: %w", disk.Path, err))
			report(i+1, numClaimed)
			continue
		}
		if fmtHandler == nil {
			dlog.Infof(ctx, "group: %s: no format claimed this disk", disk.Path)
			report(i+1, numClaimed)
			continue
		}
		numClaimed++

		sets, err := fmtHandler.Read(ctx, disk)
		if err != nil {
			dlog.Errorf(ctx, "group: %s: %s: signature present but metadata is corrupt: %v", disk.Path, fmtHandler.Name(), err)
			report(i+1, numClaimed)
			continue
		}

		for _, candidate := range sets {
			if existing, ok := byName[candidate.Name]; ok {
				if existing == candidate {
					// A plug-in that stacks a two-tier superset via
					// JoinSuperset (ASR's FWL_2/RAID10 handling) already
					// folds every disk's contribution into one shared
					// RaidSet itself; re-running the generic merge here
					// would self-append its own children.
					continue
				}
				merged, err := mergeInto(existing, candidate)
				if err != nil {
					errs = append(errs, fmt.Errorf("group: %s: %w", disk.Path, err))
					continue
				}
				byName[candidate.Name] = merged
			} else {
				byName[candidate.Name] = candidate
			}
		}
		report(i+1, numClaimed)
	}

	out := make([]*raidvol.RaidSet, 0, len(byName))
	for _, name := range maps.SortedKeys(byName) {
		out = append(out, byName[name])
	}

	if errs != nil {
		return out, errs
	}
	return out, nil
}

// mergeInto folds incoming's members into existing, both naming the
// same array as seen from two different member disks, and returns the
// (possibly new) RaidSet that should replace existing in the caller's
// index. Leaves are promoted to a stacked set the first time a second
// member for the same name is seen; group/stacked sets simply gain
// incoming's children. Propagating a disagreeing ChunkSize between
// members (see raidvol.NewGroupSet/AddChild) is a hard error: it means
// two disks that claim the same set name can't actually be describing
// the same striped array.
func mergeInto(existing, incoming *raidvol.RaidSet) (*raidvol.RaidSet, error) {
	switch {
	case existing.IsLeaf() && incoming.IsLeaf():
		return raidvol.NewGroupSet(existing.Name, existing.Type, existing, incoming)
	case !existing.IsLeaf() && incoming.IsLeaf():
		if err := existing.AddChild(incoming); err != nil {
			return nil, err
		}
		return existing, nil
	case existing.IsLeaf() && !incoming.IsLeaf():
		merged, err := raidvol.NewGroupSet(existing.Name, existing.Type, existing)
		if err != nil {
			return nil, err
		}
		for _, child := range incoming.Children {
			if err := merged.AddChild(child); err != nil {
				return nil, err
			}
		}
		return merged, nil
	default:
		for _, child := range incoming.Children {
			if err := existing.AddChild(child); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}
}

type ctxKeySupersets struct{}

// WithSupersets seeds ctx with a fresh registry for JoinSuperset, so
// that every disk Discover reads during one run shares the same
// find-or-create table — the Go equivalent of asr_group()'s
// process-lifetime raid-set table in the original, scoped to one
// Discover call instead of one process so tests stay isolated from
// each other.
func WithSupersets(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeySupersets{}, map[string]*raidvol.RaidSet{})
}

// Supersets returns the registry WithSupersets seeded into ctx, or a
// fresh, unshared one if ctx was never seeded (a plug-in's Read called
// standalone, e.g. from a unit test, still gets a usable registry; it
// just won't dedup across separate calls).
func Supersets(ctx context.Context) map[string]*raidvol.RaidSet {
	if m, ok := ctx.Value(ctxKeySupersets{}).(map[string]*raidvol.RaidSet); ok {
		return m
	}
	return map[string]*raidvol.RaidSet{}
}

// JoinSuperset is the common two-tier stacking helper spec.md §4.2
// describes: a plug-in that has already grouped siblings into a lower
// set calls this to find-or-create the superset the lower set belongs
// under, keyed by name so that multiple lower sets sharing one
// superset name converge on the same parent instead of each creating
// their own. ASR's FWL_2/RAID10 handling (asr.go) calls this twice per
// disk — once to fold the disk into its immediate mirror, once to
// stack that mirror under the top-level stripe — using the registry
// from Supersets(ctx).
func JoinSuperset(registry map[string]*raidvol.RaidSet, name string, typ raidprim.Type, lower *raidvol.RaidSet) (*raidvol.RaidSet, error) {
	if existing, ok := registry[name]; ok {
		for _, child := range existing.Children {
			if child == lower {
				return existing, nil
			}
		}
		if err := existing.AddChild(lower); err != nil {
			return nil, err
		}
		return existing, nil
	}
	super, err := raidvol.NewGroupSet(name, typ, lower)
	if err != nil {
		return nil, err
	}
	registry[name] = super
	return super, nil
}

// Check runs the member-count/status validation pass (spec.md §4.3)
// over every top-level set the grouper produced: it walks children
// before parents, first comparing each set's declared ExpectedMembers
// (see raidvol.RaidSet) against how many children were actually
// grouped — a shortfall means a member disk went missing from
// discovery entirely, so it's folded into that set's Status via
// Degrade before the set's own rollup is read — then logs a warning
// for any non-OK set. A RAID1 set that lost a member is kept in a
// degraded state; any other broken set is dropped from the returned
// slice, matching spec.md §7's severity rule for the
// invariant-violation case.
func Check(ctx context.Context, sets []*raidvol.RaidSet) []*raidvol.RaidSet {
	out := make([]*raidvol.RaidSet, 0, len(sets))
	for _, rs := range sets {
		_ = rs.Walk(func(node *raidvol.RaidSet) error {
			if node.ExpectedMembers > 0 && len(node.Children) < node.ExpectedMembers {
				dlog.Errorf(ctx, "group: set %q: expected %d members, only found %d",
					node.Name, node.ExpectedMembers, len(node.Children))
				node.Degrade(raidprim.StatusInconsistent)
			}
			if node.Status != raidprim.StatusOK {
				dlog.Warnf(ctx, "group: set %q is %v", node.Name, node.Status)
			}
			return nil
		})
		if rs.Status == raidprim.StatusBroken && rs.Type != raidprim.TypeRaid1 {
			dlog.Errorf(ctx, "group: dropping set %q: %v", rs.Name, rs.Status)
			continue
		}
		out = append(out, rs)
	}
	return out
}
