// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package dmclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvmteam/dmraid-go/lib/dmclient"
)

func TestFakeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := dmclient.NewFake()

	require.NoError(t, f.Create(ctx, "set0", "0 100 linear /dev/sda 0"))
	live, err := f.Status(ctx, "set0")
	require.NoError(t, err)
	assert.True(t, live)

	require.Error(t, f.Create(ctx, "set0", "0 100 linear /dev/sda 0"))

	require.NoError(t, f.Suspend(ctx, "set0"))
	require.NoError(t, f.Reload(ctx, "set0", "0 200 linear /dev/sda 0"))
	require.NoError(t, f.Resume(ctx, "set0"))
	assert.Equal(t, "0 200 linear /dev/sda 0", f.Tables()["set0"])

	require.NoError(t, f.Remove(ctx, "set0"))
	live, err = f.Status(ctx, "set0")
	require.NoError(t, err)
	assert.False(t, live)
}

func TestFakeRejectsUnknownDevice(t *testing.T) {
	ctx := context.Background()
	f := dmclient.NewFake()
	assert.Error(t, f.Reload(ctx, "missing", "0 1 linear /dev/sda 0"))
	assert.Error(t, f.Suspend(ctx, "missing"))
	assert.Error(t, f.Remove(ctx, "missing"))
}
