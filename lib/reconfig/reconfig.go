// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reconfig implements the mutating member-add/member-remove
// path for a live RAID1 set (spec.md §4.5), grounded on
// original_source/lib/metadata/reconfig.c's add_dev_to_raid1/
// del_dev_in_raid1: stage the change in the in-memory tree, check it,
// write the changed member's metadata first and then every sibling's,
// mark the set nosync/inconsistent, and reload the kernel mapping —
// recording a journal entry at each step so any failure unwinds the
// in-memory tree back to its pre-transaction state. Metadata already
// written by a failed transaction is not restored (see
// Journal.WriteMetadata).
package reconfig

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"github.com/lvmteam/dmraid-go/lib/activate"
	"github.com/lvmteam/dmraid-go/lib/lockmgr"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

// ChangeType names the three kinds of journal entry reconfig.c's
// struct change carries.
type ChangeType int

const (
	ChangeAddToSet ChangeType = iota
	ChangeDeleteFromSet
	ChangeWriteMetadata
)

func (t ChangeType) String() string {
	switch t {
	case ChangeAddToSet:
		return "add_to_set"
	case ChangeDeleteFromSet:
		return "delete_from_set"
	case ChangeWriteMetadata:
		return "write_metadata"
	default:
		return "unknown"
	}
}

type entry struct {
	typ     ChangeType
	setName string
	undo    func(ctx context.Context) error
}

// Journal is the playback log reconfig.c builds per transaction
// (its local `LIST_HEAD(log)`): Commit discards it on success
// (end_log), Revert replays it tail-first on failure (revert_log).
type Journal struct {
	entries []entry
}

// AddToSet stages member as a new child of rs, recording an undo step
// that detaches it again and restores its prior type. Fails if
// member's ChunkSize disagrees with rs's (see raidvol.RaidSet.AddChild):
// a spare can't join a striped set at a different stride.
func (j *Journal) AddToSet(rs *raidvol.RaidSet, member *raidvol.RaidSet) error {
	prevType := member.Type
	if err := rs.AddChild(member); err != nil {
		return err
	}
	member.Type = raidprim.TypeRaid1
	if member.Dev != nil {
		member.Dev.Type = raidprim.TypeRaid1
	}
	j.entries = append(j.entries, entry{
		typ:     ChangeAddToSet,
		setName: rs.Name,
		undo: func(ctx context.Context) error {
			rs.RemoveChild(member)
			member.Type = prevType
			if member.Dev != nil {
				member.Dev.Type = prevType
			}
			return nil
		},
	})
	return nil
}

// DeleteFromSet stages member's removal from rs, turning it into a
// spare, and records the inverse.
func (j *Journal) DeleteFromSet(rs *raidvol.RaidSet, member *raidvol.RaidSet) {
	prevType := member.Type
	rs.RemoveChild(member)
	member.Type = raidprim.TypeSpare
	if member.Dev != nil {
		member.Dev.Type = raidprim.TypeSpare
	}
	j.entries = append(j.entries, entry{
		typ:     ChangeDeleteFromSet,
		setName: rs.Name,
		undo: func(ctx context.Context) error {
			if err := rs.AddChild(member); err != nil {
				return err
			}
			member.Type = prevType
			if member.Dev != nil {
				member.Dev.Type = prevType
			}
			return nil
		},
	})
}

// WriteMetadata runs write and, only if it succeeds, appends an entry
// whose undo calls restore. restore is necessarily a no-op until a
// format plug-in's Write is more than a stub (see DESIGN.md): there is
// no captured before-image to put back yet, so a reverted transaction
// today leaves whatever write actually reached disk in place. The
// journal entry itself is still recorded, so the log lists every step
// the transaction took.
func (j *Journal) WriteMetadata(ctx context.Context, setName string, write, restore func(context.Context) error) error {
	if err := write(ctx); err != nil {
		return err
	}
	j.entries = append(j.entries, entry{
		typ:     ChangeWriteMetadata,
		setName: setName,
		undo:    restore,
	})
	return nil
}

// Commit discards the undo log: the transaction succeeded.
func (j *Journal) Commit() {
	j.entries = nil
}

// Revert replays the log tail-first, undoing every entry.
func (j *Journal) Revert(ctx context.Context) error {
	var errs derror.MultiError
	for i := len(j.entries) - 1; i >= 0; i-- {
		e := j.entries[i]
		if err := e.undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reconfig: reverting %v on %q: %w", e.typ, e.setName, err))
		}
	}
	j.entries = nil
	if errs != nil {
		return errs
	}
	return nil
}

// Checker runs the member-count/status validation pass over a set of
// trees and returns the survivors (lib/group.Check satisfies this).
type Checker func(ctx context.Context, sets []*raidvol.RaidSet) []*raidvol.RaidSet

// Ops bundles the collaborators add_dev_to_set/del_dev_in_set need:
// the external lock, the activator for the reload step, a per-disk
// metadata writer, and the check pass.
type Ops struct {
	Locker      lockmgr.Locker
	Activator   *activate.Activator
	Check       Checker
	WriteMember func(ctx context.Context, dev *raidvol.RaidDev) error
}

// AddDevToSet implements reconfig.c's add_dev_to_set/add_dev_to_raid1
// path: stage member into rs, check, write member's metadata then
// every sibling's, mark rs nosync, activate and reload. Only RAID1
// targets are supported, the only set type reconfig.c wires a handler
// for.
func (o *Ops) AddDevToSet(ctx context.Context, rs *raidvol.RaidSet, member *raidvol.RaidSet) error {
	if rs.Type != raidprim.TypeRaid1 {
		return fmt.Errorf("reconfig: add_dev_to_set: %q is %v, not raid1", rs.Name, rs.Type)
	}
	if member.Type == raidprim.TypeGroup {
		return fmt.Errorf("reconfig: add_dev_to_set: can't add a group set to %q", rs.Name)
	}
	if member.Parent != nil && member.Type != raidprim.TypeSpare {
		return fmt.Errorf("reconfig: add_dev_to_set: %q is already in set %q", member.Name, member.Parent.Name)
	}

	if err := o.Locker.LockResource(ctx, rs.Name); err != nil {
		return fmt.Errorf("reconfig: %w", err)
	}
	defer o.Locker.UnlockResource(ctx, rs.Name)

	var j Journal
	if spares := member.Parent; spares != nil {
		// Journaled, so a failed transaction puts the spare back.
		j.DeleteFromSet(spares, member)
	}
	if err := j.AddToSet(rs, member); err != nil {
		_ = j.Revert(ctx)
		return fmt.Errorf("reconfig: add_dev_to_set: %w", err)
	}

	if checked := o.Check(ctx, []*raidvol.RaidSet{rs}); len(checked) == 0 {
		_ = j.Revert(ctx)
		return fmt.Errorf("reconfig: %q failed check after adding %q", rs.Name, member.Name)
	}

	if err := o.writeMemberThenSiblings(ctx, &j, rs, member); err != nil {
		_ = j.Revert(ctx)
		return err
	}

	rs.Status = raidprim.StatusNosync
	if err := o.Activator.Activate(ctx, rs); err != nil {
		_ = j.Revert(ctx)
		return fmt.Errorf("reconfig: activating %q: %w", rs.Name, err)
	}
	if err := o.Activator.Reload(ctx, rs); err != nil {
		_ = j.Revert(ctx)
		return fmt.Errorf("reconfig: reloading %q: %w", rs.Name, err)
	}

	j.Commit()
	dlog.Infof(ctx, "reconfig: added %q to %q", member.Name, rs.Name)
	return nil
}

// DelDevInSet implements reconfig.c's del_dev_in_set/del_dev_in_raid1
// path: stage member's removal, check, write its metadata then every
// remaining sibling's, mark rs inconsistent/nosync, and reload
// (no activate step — the set is already live).
func (o *Ops) DelDevInSet(ctx context.Context, rs *raidvol.RaidSet, member *raidvol.RaidSet) error {
	if rs.Type != raidprim.TypeRaid1 {
		return fmt.Errorf("reconfig: del_dev_in_set: %q is %v, not raid1", rs.Name, rs.Type)
	}
	if member.Parent != rs {
		return fmt.Errorf("reconfig: del_dev_in_set: %q is not a member of %q", member.Name, rs.Name)
	}

	if err := o.Locker.LockResource(ctx, rs.Name); err != nil {
		return fmt.Errorf("reconfig: %w", err)
	}
	defer o.Locker.UnlockResource(ctx, rs.Name)

	var j Journal
	j.DeleteFromSet(rs, member)

	if checked := o.Check(ctx, []*raidvol.RaidSet{rs}); len(checked) == 0 {
		_ = j.Revert(ctx)
		return fmt.Errorf("reconfig: %q failed check after removing %q", rs.Name, member.Name)
	}

	if err := o.writeMemberThenSiblings(ctx, &j, rs, member); err != nil {
		_ = j.Revert(ctx)
		return err
	}

	rs.Status = raidprim.StatusInconsistent.Worst(raidprim.StatusNosync)
	if err := o.Activator.Reload(ctx, rs); err != nil {
		_ = j.Revert(ctx)
		return fmt.Errorf("reconfig: reloading %q: %w", rs.Name, err)
	}

	j.Commit()
	dlog.Infof(ctx, "reconfig: removed %q from %q", member.Name, rs.Name)
	return nil
}

func (o *Ops) writeMemberThenSiblings(ctx context.Context, j *Journal, rs *raidvol.RaidSet, member *raidvol.RaidSet) error {
	if member.Dev != nil {
		dev := member.Dev
		if err := j.WriteMetadata(ctx, rs.Name,
			func(ctx context.Context) error { return o.WriteMember(ctx, dev) },
			func(ctx context.Context) error { return nil },
		); err != nil {
			return fmt.Errorf("reconfig: writing %q's metadata: %w", member.Name, err)
		}
	}

	for _, sibling := range rs.Children {
		if sibling == member || sibling.Dev == nil {
			continue
		}
		dev := sibling.Dev
		if err := j.WriteMetadata(ctx, rs.Name,
			func(ctx context.Context) error { return o.WriteMember(ctx, dev) },
			func(ctx context.Context) error { return nil },
		); err != nil {
			return fmt.Errorf("reconfig: writing %q's metadata: %w", sibling.Name, err)
		}
	}
	return nil
}
