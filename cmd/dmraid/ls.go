// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"

	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lvmteam/dmraid-go/lib/diag"
	"github.com/lvmteam/dmraid-go/lib/group"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
	"github.com/lvmteam/dmraid-go/lib/textui"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "ls disk...",
			Short: "Discover RAID sets on the given disks and list them",
			Args:  cobra.MinimumNArgs(1),
		},
		RunE: runLs,
	})
}

// discover opens disks, probes and groups them, and runs the check
// pass, the shared first half of every subcommand in this package
// (spec.md §4.2/§4.3's group-then-check pipeline).
func discover(ctx context.Context, opts options, diskPaths []string) ([]*raidvol.RaidSet, func() error, error) {
	disks, closeAll, err := openDisks(diskPaths)
	if err != nil {
		return nil, nil, err
	}

	if opts.Dump != "" {
		dumper := &diag.Dumper{Dir: opts.Dump}
		for _, d := range disks {
			buf := make([]byte, 512)
			if n, _ := d.File().ReadAt(buf, 0); n > 0 {
				_ = dumper.DumpRegion("probe", d.Path, 0, buf[:n])
			}
			dumper.DumpDevSize("probe", d.Path, int64(d.Sectors()))
		}
		if err := dumper.WriteManifest(); err != nil {
			_ = closeAll()
			return nil, nil, err
		}
	}

	g := group.New(vendorRegistry(opts.Format))
	sets, err := g.Discover(ctx, disks)
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	sets = group.Check(ctx, sets)
	return sets, closeAll, nil
}

func runLs(ctx context.Context, opts options, disks []string, cmd *cobra.Command, args []string) error {
	sets, closeAll, err := discover(ctx, opts, disks)
	if err != nil {
		return err
	}
	defer closeAll()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Type", "Status", "Sectors"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	for _, rs := range sets {
		_ = rs.Walk(func(node *raidvol.RaidSet) error {
			table.Append([]string{
				node.Name,
				node.Type.String(),
				node.Status.String(),
				textui.Sprintf("%d", int64(node.TotalSectors())),
			})
			return nil
		})
	}
	table.Render()
	return nil
}
