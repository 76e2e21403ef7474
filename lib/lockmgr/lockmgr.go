// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package lockmgr is the external locking collaborator spec.md §5
// names, delegating coordination between concurrent invocations to
// whatever this is backed by (originally a lock file under /var/lock;
// here, an interface so lib/reconfig doesn't depend on a particular
// mechanism). lib/reconfig calls LockResource/UnlockResource once
// around each add/remove-member transaction; discovery (lib/group)
// reads metadata without taking the lock.
package lockmgr

import (
	"context"
	"sync"
)

// Locker is the collaborator the core consults around metadata I/O.
// A no-op implementation is valid: spec.md §6's `ignorelocking` option
// bypasses this collaborator entirely, and Noop gives the same
// behavior without a conditional at every call site.
type Locker interface {
	LockResource(ctx context.Context, name string) error
	UnlockResource(ctx context.Context, name string) error
}

// Noop never blocks and never conflicts; it backs the `ignorelocking`
// option and single-process test runs.
type Noop struct{}

var _ Locker = Noop{}

func (Noop) LockResource(ctx context.Context, name string) error   { return nil }
func (Noop) UnlockResource(ctx context.Context, name string) error { return nil }

// InProcess is a real, process-local mutex per resource name, for
// tests that want actual lock contention without an external lock
// file.
type InProcess struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Locker = (*InProcess)(nil)

func NewInProcess() *InProcess {
	return &InProcess{locks: map[string]*sync.Mutex{}}
}

func (l *InProcess) resourceLock(name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	return m
}

func (l *InProcess) LockResource(ctx context.Context, name string) error {
	l.resourceLock(name).Lock()
	return nil
}

func (l *InProcess) UnlockResource(ctx context.Context, name string) error {
	l.resourceLock(name).Unlock()
	return nil
}
