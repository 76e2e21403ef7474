// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package activate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvmteam/dmraid-go/lib/activate"
	"github.com/lvmteam/dmraid-go/lib/raidprim"
	"github.com/lvmteam/dmraid-go/lib/raidvol"
)

func leafDev(path string, typ raidprim.Type, status raidprim.Status, size raidvol.Sector) *raidvol.RaidSet {
	return raidvol.NewLeafSet(path, &raidvol.RaidDev{
		Disk:   raidvol.NewDiskInfo(0, path, nil),
		Type:   typ,
		Status: status,
		Size:   size,
	})
}

func TestBuildLinear(t *testing.T) {
	a := leafDev("/dev/sda", raidprim.TypeLinear, raidprim.StatusOK, 100)
	b := leafDev("/dev/sdb", raidprim.TypeLinear, raidprim.StatusOK, 200)
	rs, err := raidvol.NewGroupSet("lin0", raidprim.TypeLinear, a, b)
	require.NoError(t, err)

	table, err := (activate.Builder{}).Build(rs)
	require.NoError(t, err)
	assert.Equal(t, "0 100 linear /dev/sda 0\n100 200 linear /dev/sdb 0", table)
}

func TestBuildLinearErrorPath(t *testing.T) {
	a := leafDev("/dev/sda", raidprim.TypeLinear, raidprim.StatusBroken, 100)
	rs, err := raidvol.NewGroupSet("lin0", raidprim.TypeLinear, a)
	require.NoError(t, err)

	table, err := (activate.Builder{ErrorPath: "/dev/mapper/error"}).Build(rs)
	require.NoError(t, err)
	assert.Equal(t, "0 100 linear /dev/mapper/error 0", table)
}

func TestBuildStripedEqualSizeSingleBand(t *testing.T) {
	a := leafDev("/dev/sda", raidprim.TypeRaid0, raidprim.StatusOK, 100)
	b := leafDev("/dev/sdb", raidprim.TypeRaid0, raidprim.StatusOK, 100)
	rs, err := raidvol.NewGroupSet("stripe0", raidprim.TypeRaid0, a, b)
	require.NoError(t, err)
	rs.ChunkSize = 4

	table, err := (activate.Builder{}).Build(rs)
	require.NoError(t, err)
	assert.Equal(t, "0 200 striped 2 4 /dev/sda 0 /dev/sdb 0", table)
}

// TestBuildStripedMaximizedThreeBands exercises spec.md §8's
// heterogeneous-disk-size scenario (80/100/120 GiB members, here scaled
// down to keep the expected string readable): with Maximize set, each
// distinct size boundary gets its own band instead of truncating every
// member to the smallest one's size.
func TestBuildStripedMaximizedThreeBands(t *testing.T) {
	a := leafDev("/dev/sda", raidprim.TypeRaid0, raidprim.StatusOK, 80)
	b := leafDev("/dev/sdb", raidprim.TypeRaid0, raidprim.StatusOK, 100)
	c := leafDev("/dev/sdc", raidprim.TypeRaid0, raidprim.StatusOK, 120)
	rs, err := raidvol.NewGroupSet("stripe1", raidprim.TypeRaid0, a, b, c)
	require.NoError(t, err)
	rs.ChunkSize = 4
	rs.Maximize = true

	table, err := (activate.Builder{}).Build(rs)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"0 240 striped 3 4 /dev/sda 0 /dev/sdb 0 /dev/sdc 0",
		"240 40 striped 2 4 /dev/sdb 80 /dev/sdc 80",
		"280 20 linear /dev/sdc 100",
	}, "\n"), table)
}

func TestBuildMirrorDegradesToLinear(t *testing.T) {
	a := leafDev("/dev/sda", raidprim.TypeRaid1, raidprim.StatusOK, 100)
	b := leafDev("/dev/sdb", raidprim.TypeRaid1, raidprim.StatusBroken, 100)
	rs, err := raidvol.NewGroupSet("mirror0", raidprim.TypeRaid1, a, b)
	require.NoError(t, err)

	table, err := (activate.Builder{ErrorPath: "/dev/mapper/error"}).Build(rs)
	require.NoError(t, err)
	// Only one live member: degrades to a linear mapping over both slots.
	assert.Contains(t, table, "linear /dev/sda 0")
	assert.Contains(t, table, "linear /dev/mapper/error 0")
}

func TestBuildMirrorTwoMembers(t *testing.T) {
	a := leafDev("/dev/sda", raidprim.TypeRaid1, raidprim.StatusOK, 2048)
	b := leafDev("/dev/sdb", raidprim.TypeRaid1, raidprim.StatusOK, 2048)
	rs, err := raidvol.NewGroupSet("mirror1", raidprim.TypeRaid1, a, b)
	require.NoError(t, err)

	table, err := (activate.Builder{}).Build(rs)
	require.NoError(t, err)
	assert.Equal(t, "0 2048 mirror core 2 128 nosync 2 /dev/sda 0 /dev/sdb 0 1 handle_errors", table)
}

func TestBuildRaid45(t *testing.T) {
	a := leafDev("/dev/sda", raidprim.TypeRaid5LS, raidprim.StatusOK, 2048)
	b := leafDev("/dev/sdb", raidprim.TypeRaid5LS, raidprim.StatusOK, 2048)
	c := leafDev("/dev/sdc", raidprim.TypeRaid5LS, raidprim.StatusOK, 2048)
	rs, err := raidvol.NewGroupSet("raid5", raidprim.TypeRaid5LS, a, b, c)
	require.NoError(t, err)
	rs.ChunkSize = 8

	table, err := (activate.Builder{}).Build(rs)
	require.NoError(t, err)
	assert.Equal(t, "0 4096 raid45 core 2 128 nosync left_sym 1 8 3 -1 /dev/sda 0 /dev/sdb 0 /dev/sdc 0", table)
}

func TestBuildRefusesGroupAndUnknown(t *testing.T) {
	group, err := raidvol.NewGroupSet("g0", raidprim.TypeGroup)
	require.NoError(t, err)
	_, err = (activate.Builder{}).Build(group)
	assert.Error(t, err)

	spare, err := raidvol.NewGroupSet("s0", raidprim.TypeRaid6)
	require.NoError(t, err)
	_, err = (activate.Builder{}).Build(spare)
	assert.Error(t, err)
}
