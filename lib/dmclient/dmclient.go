// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dmclient is the external device-mapper interface spec.md §6
// names: create/remove/reload/suspend/resume/status/version against a
// live kernel. It defines the Client contract and a Fake
// implementation so lib/activate's state machine can be tested without
// a DM-capable kernel, the way the teacher's lib/diskio defines
// OSFile alongside in-memory test files.
package dmclient

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Client is the collaborator lib/activate drives; it corresponds to
// the original dmraid's direct libdevmapper ioctl calls.
type Client interface {
	Create(ctx context.Context, name, table string) error
	Remove(ctx context.Context, name string) error
	Reload(ctx context.Context, name, table string) error
	Suspend(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
	// Status reports whether name is currently live in the kernel's DM
	// table, spec.md §6's "status(name) → live?".
	Status(ctx context.Context, name string) (live bool, err error)
	Version(ctx context.Context) (string, error)
}

// Fake is an in-memory Client, tracking live device names and their
// current table text, for use in tests and in "test mode" (spec.md §6's
// `test` option emits tables to the diagnostic sink instead of
// submitting them — Fake is the sink Discover/Activate exercise in
// that mode).
type Fake struct {
	mu      sync.Mutex
	devices map[string]string // name -> table text
	version string
}

var _ Client = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		devices: map[string]string{},
		version: "fake-4.45.0",
	}
}

func (f *Fake) Create(ctx context.Context, name, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[name]; ok {
		return fmt.Errorf("dmclient: %q already exists", name)
	}
	f.devices[name] = table
	return nil
}

func (f *Fake) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[name]; !ok {
		return fmt.Errorf("dmclient: %q does not exist", name)
	}
	delete(f.devices, name)
	return nil
}

func (f *Fake) Reload(ctx context.Context, name, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[name]; !ok {
		return fmt.Errorf("dmclient: %q does not exist", name)
	}
	f.devices[name] = table
	return nil
}

func (f *Fake) Suspend(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[name]; !ok {
		return fmt.Errorf("dmclient: %q does not exist", name)
	}
	return nil
}

func (f *Fake) Resume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[name]; !ok {
		return fmt.Errorf("dmclient: %q does not exist", name)
	}
	return nil
}

func (f *Fake) Status(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.devices[name]
	return ok, nil
}

func (f *Fake) Version(ctx context.Context) (string, error) {
	return f.version, nil
}

// Tables returns a snapshot copy of every live device's table text,
// keyed by device name, for test assertions.
func (f *Fake) Tables() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.devices))
	for k, v := range f.devices {
		out[k] = v
	}
	return out
}

// Names returns the sorted names of every currently-live device.
func (f *Fake) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.devices))
	for k := range f.devices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
