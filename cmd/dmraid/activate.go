// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lvmteam/dmraid-go/lib/activate"
	"github.com/lvmteam/dmraid-go/lib/dmclient"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

func init() {
	subcommands = append(subcommands,
		subcommand{
			Command: cobra.Command{
				Use:   "activate disk...",
				Short: "Activate every discovered RAID set as a device-mapper device",
				Args:  cobra.MinimumNArgs(1),
			},
			RunE: runActivate,
		},
		subcommand{
			Command: cobra.Command{
				Use:   "deactivate disk...",
				Short: "Remove the device-mapper devices for every discovered RAID set",
				Args:  cobra.MinimumNArgs(1),
			},
			RunE: runDeactivate,
		},
	)
}

// dmClient is the single process-wide fake device-mapper client; no
// real ioctl backend is wired (see DESIGN.md's lib/dmclient entry), so
// every subcommand that talks to "the kernel" talks to this instead,
// consistently with `test` mode where nothing is submitted at all.
var dmClient = dmclient.NewFake()

func newActivator(opts options) *activate.Activator {
	return &activate.Activator{
		Builder: activate.Builder{ErrorPath: opts.ErrorPath},
		Client:  dmClient,
		Test:    opts.Test,
		Print: func(name, table string) {
			fmt.Fprintf(os.Stdout, "%s:\n%s\n", name, table)
		},
	}
}

func runActivate(ctx context.Context, opts options, disks []string, cmd *cobra.Command, args []string) error {
	sets, closeAll, err := discover(ctx, opts, disks)
	if err != nil {
		return err
	}
	defer closeAll()

	a := newActivator(opts)
	for _, rs := range sets {
		if err := a.Activate(ctx, rs); err != nil {
			return fmt.Errorf("activating %q: %w", rs.Name, err)
		}
	}

	if opts.NoPartitions {
		return nil
	}
	return activatePartitions(ctx, a, sets)
}

func runDeactivate(ctx context.Context, opts options, disks []string, cmd *cobra.Command, args []string) error {
	sets, closeAll, err := discover(ctx, opts, disks)
	if err != nil {
		return err
	}
	defer closeAll()

	a := newActivator(opts)
	for _, rs := range sets {
		if err := a.Deactivate(ctx, rs); err != nil {
			return fmt.Errorf("deactivating %q: %w", rs.Name, err)
		}
	}
	return nil
}

// activatePartitions implements spec.md §4.6: once a top-level set is
// active, it's re-probed as if it were a disk (its DiskInfo pointing
// at the DM node, its sector count the set's computed total) against
// the PARTITION-tagged plug-ins only, synthesising t_partition
// children that are themselves then activated.
func activatePartitions(ctx context.Context, a *activate.Activator, sets []*raidvol.RaidSet) error {
	reg := partitionRegistry()
	for _, rs := range sets {
		disk, closeDisk, err := openDisks([]string{"/dev/mapper/" + rs.Name})
		if err != nil {
			// No real DM node exists to re-probe (e.g. `test` mode,
			// or no kernel ioctl backend; see DESIGN.md). Not having
			// one is expected, not an error worth aborting the whole
			// set list over.
			continue
		}

		fmtHandler, err := reg.Probe(ctx, disk[0])
		if err != nil || fmtHandler == nil {
			_ = closeDisk()
			continue
		}
		children, err := fmtHandler.Read(ctx, disk[0])
		_ = closeDisk()
		if err != nil {
			continue
		}

		for _, child := range children {
			if err := rs.AddChild(child); err != nil {
				return fmt.Errorf("grouping partition %q: %w", child.Name, err)
			}
			if err := a.Activate(ctx, child); err != nil {
				return fmt.Errorf("activating partition %q: %w", child.Name, err)
			}
		}
	}
	return nil
}
