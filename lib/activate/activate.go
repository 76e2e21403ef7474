// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package activate

import (
	"context"
	"errors"
	"fmt"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"github.com/lvmteam/dmraid-go/lib/dmclient"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

// Activator drives dmclient.Client through the build/activate/
// deactivate/reload state machine spec.md §4.4 describes: children
// before parents for build and activate, parents before children for
// deactivate, and a reload path that always attempts resume even when
// the reload itself failed.
type Activator struct {
	Builder Builder
	Client  dmclient.Client
	// Test, when set, makes Activate emit tables via Print instead of
	// submitting them to Client — spec.md §6's `test` option.
	Test bool
	// Print receives the rendered table for each set when Test is set;
	// defaults to discarding it if nil.
	Print func(name, table string)
}

func (a *Activator) print(name, table string) {
	if a.Print != nil {
		a.Print(name, table)
	}
}

// Activate recurses children-first into any stacked (non-leaf) child
// sets — a two-tier map's sub-sets need their own DM device before the
// parent's table can reference them by /dev/mapper path — then builds
// and creates rs itself. A leaf child is a raw disk, not a DM device
// of its own, so it is addressed directly by Build and never
// recursed into. Group sets (spec.md §4.4's "group: iterate children
// only") are skipped without error once their children are done.
func (a *Activator) Activate(ctx context.Context, rs *raidvol.RaidSet) error {
	var errs derror.MultiError
	if !rs.IsLeaf() {
		for _, child := range rs.Children {
			if child.IsLeaf() {
				continue
			}
			if err := a.Activate(ctx, child); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := a.activateOne(ctx, rs); err != nil {
		errs = append(errs, err)
	}
	if errs != nil {
		return errs
	}
	return nil
}

func (a *Activator) activateOne(ctx context.Context, rs *raidvol.RaidSet) error {
	table, err := a.Builder.Build(rs)
	if err != nil {
		if errors.Is(err, ErrGroupSet) {
			return nil
		}
		return fmt.Errorf("activate: building table for %q: %w", rs.Name, err)
	}

	if a.Test {
		a.print(rs.Name, table)
		return nil
	}

	live, err := a.Client.Status(ctx, rs.Name)
	if err != nil {
		return fmt.Errorf("activate: checking status of %q: %w", rs.Name, err)
	}
	if live {
		dlog.Infof(ctx, "activate: %q already live, skipping", rs.Name)
		return nil
	}

	if err := a.Client.Create(ctx, rs.Name, table); err != nil {
		return fmt.Errorf("activate: creating %q: %w", rs.Name, err)
	}
	dlog.Infof(ctx, "activate: created %q", rs.Name)
	return nil
}

// Deactivate walks rs top-down, removing the parent's DM device before
// descending into any stacked (non-leaf) child sets (spec.md §4.4's
// "Deactivation walks top-down, removing the parent before children").
// Leaf children are raw disks with no DM device to remove, so they are
// never recursed into.
func (a *Activator) Deactivate(ctx context.Context, rs *raidvol.RaidSet) error {
	var errs derror.MultiError
	if rs.Type != raidprim.TypeGroup {
		if err := a.deactivateOne(ctx, rs); err != nil {
			errs = append(errs, err)
		}
	}
	if !rs.IsLeaf() {
		for _, child := range rs.Children {
			if child.IsLeaf() {
				continue
			}
			if err := a.Deactivate(ctx, child); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if errs != nil {
		return errs
	}
	return nil
}

func (a *Activator) deactivateOne(ctx context.Context, rs *raidvol.RaidSet) error {
	live, err := a.Client.Status(ctx, rs.Name)
	if err != nil {
		return fmt.Errorf("activate: checking status of %q: %w", rs.Name, err)
	}
	if !live {
		return nil
	}
	if err := a.Client.Remove(ctx, rs.Name); err != nil {
		return fmt.Errorf("activate: removing %q: %w", rs.Name, err)
	}
	dlog.Infof(ctx, "activate: removed %q", rs.Name)
	return nil
}

// Reload suspends name, rewrites its table from rs's current state,
// then resumes it — always attempting resume even when the reload
// step failed, per spec.md §4.4's "on any failure, resume is still
// attempted before reporting the error".
func (a *Activator) Reload(ctx context.Context, rs *raidvol.RaidSet) error {
	table, err := a.Builder.Build(rs)
	if err != nil {
		return fmt.Errorf("activate: building table for %q: %w", rs.Name, err)
	}

	if err := a.Client.Suspend(ctx, rs.Name); err != nil {
		return fmt.Errorf("activate: suspending %q: %w", rs.Name, err)
	}

	reloadErr := a.Client.Reload(ctx, rs.Name, table)

	if err := a.Client.Resume(ctx, rs.Name); err != nil {
		if reloadErr != nil {
			return fmt.Errorf("activate: reloading %q: %w (resume also failed: %v)", rs.Name, reloadErr, err)
		}
		return fmt.Errorf("activate: resuming %q: %w", rs.Name, err)
	}

	if reloadErr != nil {
		return fmt.Errorf("activate: reloading %q: %w", rs.Name, reloadErr)
	}
	dlog.Infof(ctx, "activate: reloaded %q", rs.Name)
	return nil
}
