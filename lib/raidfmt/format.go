// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package raidfmt defines the contract every vendor metadata plug-in
// implements, and a registry that probes a disk against each of them
// in turn.
package raidfmt

import (
	"context"

	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

// Format is implemented by each vendor (or pseudo-vendor, for
// FormatPartition) metadata reader/writer. A Format is stateless; all
// per-disk state lives in the RaidDev/RaidSet it produces.
type Format interface {
	// Name is the short handler name used in RaidSet names
	// ("isw", "asr", "ddf1", "hpt37x", ...) the way the original's
	// HANDLER macro is used as a set-name prefix.
	Name() string

	// Probe reports whether disk carries this format's metadata,
	// without fully parsing it. Probe must not mutate disk.
	Probe(ctx context.Context, disk *raidvol.DiskInfo) (bool, error)

	// Read parses disk's metadata into one RaidSet per RAID volume
	// the metadata describes (a disk can be a member of more than
	// one volume, e.g. ISW's multiple isw_dev entries sharing one
	// disk table). Read does not group; that's lib/group's job.
	Read(ctx context.Context, disk *raidvol.DiskInfo) ([]*raidvol.RaidSet, error)

	// Write serializes rs's metadata back to its member disks. If
	// erase is true, the metadata region is instead zeroed.
	Write(ctx context.Context, rs *raidvol.RaidSet, erase bool) error
}

// DevSorter is implemented by formats whose RaidSet needs a specific,
// stable per-disk ordering beyond plain device-table order (ASR builds
// a composite hba:channel:lun:id key; see asr.go).
type DevSorter interface {
	// SortKey returns a value such that sorting RaidDevs by
	// ascending SortKey reproduces the order the original metadata
	// implies, without relying on pointer identity or discovery
	// order (see DESIGN.md's "ISW dev-sort stability" decision).
	SortKey(dev *raidvol.RaidDev) uint64
}

// EventHandler is implemented by formats that react to a kernel I/O
// event on a member device by updating its in-memory RaidDev status
// (ISW and ASR both implement it). No metadata is written.
type EventHandler interface {
	EventIO(ctx context.Context, dev *raidvol.RaidDev) error
}

// Registry holds every known Format and probes a disk against each in
// the order they were registered.
type Registry struct {
	formats []Format
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(f Format) {
	r.formats = append(r.formats, f)
}

func (r *Registry) Formats() []Format {
	out := make([]Format, len(r.formats))
	copy(out, r.formats)
	return out
}

func (r *Registry) ByName(name string) Format {
	for _, f := range r.formats {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// Probe tries every registered format against disk and returns the
// first one that claims it. Vendor BIOS-RAID formats are probed before
// FormatPartition, matching the original's preference for a disk that
// is itself a RAID member over treating it as a bare partitioned disk
// (spec.md §4.6).
func (r *Registry) Probe(ctx context.Context, disk *raidvol.DiskInfo) (Format, error) {
	for _, f := range r.formats {
		ok, err := f.Probe(ctx, disk)
		if err != nil {
			return nil, err
		}
		if ok {
			return f, nil
		}
	}
	return nil, nil
}
