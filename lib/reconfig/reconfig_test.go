// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reconfig_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvmteam/dmraid-go/lib/activate"
	"github.com/lvmteam/dmraid-go/lib/dmclient"
	"github.com/lvmteam/dmraid-go/lib/lockmgr"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
	"github.com/lvmteam/dmraid-go/lib/reconfig"
)

func leaf(name string, status raidprim.Status, size raidvol.Sector) *raidvol.RaidSet {
	return raidvol.NewLeafSet(name, &raidvol.RaidDev{
		Disk:   raidvol.NewDiskInfo(0, "/dev/"+name, nil),
		Type:   raidprim.TypeRaid1,
		Status: status,
		Size:   size,
	})
}

func alwaysHealthy(ctx context.Context, sets []*raidvol.RaidSet) []*raidvol.RaidSet {
	return sets
}

func alwaysFailsCheck(ctx context.Context, sets []*raidvol.RaidSet) []*raidvol.RaidSet {
	return nil
}

func newOps(check reconfig.Checker, writeErr error) (*reconfig.Ops, *dmclient.Fake) {
	client := dmclient.NewFake()
	return &reconfig.Ops{
		Locker:    lockmgr.Noop{},
		Activator: &activate.Activator{Client: client},
		Check:     check,
		WriteMember: func(ctx context.Context, dev *raidvol.RaidDev) error {
			return writeErr
		},
	}, client
}

func TestAddDevToSetSucceeds(t *testing.T) {
	ctx := context.Background()
	ops, client := newOps(alwaysHealthy, nil)

	a := leaf("sda", raidprim.StatusOK, 1000)
	b := leaf("sdb", raidprim.StatusOK, 1000)
	rs, err := raidvol.NewGroupSet("mirror0", raidprim.TypeRaid1, a, b)
	require.NoError(t, err)
	require.NoError(t, client.Create(ctx, "mirror0", "stale"))

	c := leaf("sdc", raidprim.StatusOK, 1000)
	require.NoError(t, ops.AddDevToSet(ctx, rs, c))

	assert.Len(t, rs.Children, 3)
	assert.Equal(t, raidprim.TypeRaid1, c.Type)
	assert.Equal(t, raidprim.StatusNosync, rs.Status)
	assert.NotEqual(t, "stale", client.Tables()["mirror0"])
}

func TestAddDevToSetRevertsOnCheckFailure(t *testing.T) {
	ctx := context.Background()
	ops, _ := newOps(alwaysFailsCheck, nil)

	a := leaf("sda", raidprim.StatusOK, 1000)
	rs, err := raidvol.NewGroupSet("mirror1", raidprim.TypeRaid1, a)
	require.NoError(t, err)
	b := leaf("sdb", raidprim.StatusOK, 1000)

	err = ops.AddDevToSet(ctx, rs, b)
	require.Error(t, err)
	assert.Len(t, rs.Children, 1, "failed add must not leave the new member attached")
	assert.Equal(t, raidprim.TypeRaid1, b.Type, "reverted member keeps its pre-transaction type")
	assert.Nil(t, b.Parent)
}

func TestAddDevToSetRevertsOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	ops, _ := newOps(alwaysHealthy, fmt.Errorf("disk full"))

	a := leaf("sda", raidprim.StatusOK, 1000)
	rs, err := raidvol.NewGroupSet("mirror2", raidprim.TypeRaid1, a)
	require.NoError(t, err)
	b := leaf("sdb", raidprim.StatusOK, 1000)

	err = ops.AddDevToSet(ctx, rs, b)
	require.Error(t, err)
	assert.Len(t, rs.Children, 1)
	assert.Nil(t, b.Parent)
}

func TestAddDevToSetRejectsNonRaid1(t *testing.T) {
	ctx := context.Background()
	ops, _ := newOps(alwaysHealthy, nil)

	a := leaf("sda", raidprim.StatusOK, 1000)
	a.Type = raidprim.TypeRaid0
	rs, err := raidvol.NewGroupSet("stripe0", raidprim.TypeRaid0, a)
	require.NoError(t, err)
	b := leaf("sdb", raidprim.StatusOK, 1000)

	assert.Error(t, ops.AddDevToSet(ctx, rs, b))
}

func TestDelDevInSetSucceeds(t *testing.T) {
	ctx := context.Background()
	ops, client := newOps(alwaysHealthy, nil)

	a := leaf("sda", raidprim.StatusOK, 1000)
	b := leaf("sdb", raidprim.StatusOK, 1000)
	rs, err := raidvol.NewGroupSet("mirror3", raidprim.TypeRaid1, a, b)
	require.NoError(t, err)
	require.NoError(t, client.Create(ctx, "mirror3", "0 1000 mirror core 2 64 nosync 2 /dev/sda 0 /dev/sdb 0 1 handle_errors"))

	require.NoError(t, ops.DelDevInSet(ctx, rs, b))
	assert.Len(t, rs.Children, 1)
	assert.Equal(t, raidprim.TypeSpare, b.Type)
	assert.Nil(t, b.Parent)
}

func TestDelDevInSetRejectsForeignMember(t *testing.T) {
	ctx := context.Background()
	ops, _ := newOps(alwaysHealthy, nil)

	a := leaf("sda", raidprim.StatusOK, 1000)
	rs, err := raidvol.NewGroupSet("mirror4", raidprim.TypeRaid1, a)
	require.NoError(t, err)
	stray := leaf("sdz", raidprim.StatusOK, 1000)

	assert.Error(t, ops.DelDevInSet(ctx, rs, stray))
}
