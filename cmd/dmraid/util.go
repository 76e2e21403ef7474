// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/datawire/dlib/derror"

	"github.com/lvmteam/dmraid-go/lib/diskio"
	"github.com/lvmteam/dmraid-go/lib/raidfmt"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/asr"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/ddf1"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/dospart"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/hpt37x"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/hpt45x"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/isw"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/jmicron"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/lsi"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/nvidia"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/promise"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/sil"
	"github.com/lvmteam/dmraid-go/lib/raidfmt/via"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

// vendorRegistry builds the registry of every vendor BIOS-RAID
// plug-in, filtered to formats named in the `format` option when it's
// non-empty (spec.md §6's "Restrict plug-in probing to the listed
// formats"). The partition pass (§4.6) uses its own, separate
// registry; see partitionRegistry.
func vendorRegistry(only []string) *raidfmt.Registry {
	all := []raidfmt.Format{
		asr.Format{},
		isw.Format{},
		ddf1.Format{},
		hpt37x.Format,
		hpt45x.Format,
		jmicron.Format,
		lsi.Format,
		nvidia.Format,
		promise.Format,
		sil.Format,
		via.Format,
	}

	reg := raidfmt.NewRegistry()
	for _, f := range all {
		if len(only) > 0 && !contains(only, f.Name()) {
			continue
		}
		reg.Register(f)
	}
	return reg
}

// partitionRegistry holds only the PARTITION-tagged plug-ins §4.6
// re-probes an activated set's DM node against.
func partitionRegistry() *raidfmt.Registry {
	reg := raidfmt.NewRegistry()
	reg.Register(dospart.Format{})
	return reg
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// openDisks opens every path as a raw block device (or a plain file,
// for testing against images), converting each into a raidvol.DiskInfo.
// The returned closer closes every successfully opened disk, even if
// opening a later path fails.
func openDisks(paths []string) ([]*raidvol.DiskInfo, func() error, error) {
	disks := make([]*raidvol.DiskInfo, 0, len(paths))
	closeAll := func() error {
		var errs derror.MultiError
		for _, d := range disks {
			if err := d.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if errs != nil {
			return errs
		}
		return nil
	}

	for i, path := range paths {
		fh, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("opening %q: %w", path, err)
		}
		disks = append(disks, raidvol.NewDiskInfo(raidvol.DeviceID(i), path, &diskio.OSFile[int64]{File: fh}))
	}
	return disks, closeAll, nil
}
