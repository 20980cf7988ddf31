// Copyright 2024 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
package cli

import (
	"bytes"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendersoftware/mender-updateclient/client/api"
	"github.com/mendersoftware/mender-updateclient/conf"
	"github.com/mendersoftware/mender-updateclient/device"
	"github.com/mendersoftware/mender-updateclient/store"
)

func newTestContext(t *testing.T) *device.Context {
	dbstore, err := store.NewDBStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { dbstore.Close() })
	return device.NewContext(dbstore, path.Join(t.TempDir(), "device_type"))
}

func captureOut(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	oldOut := out
	out = &buf
	t.Cleanup(func() { out = oldOut })
	return &buf
}

func TestShowArtifactNoneInstalledIsError(t *testing.T) {
	ctx := newTestContext(t)
	err := showArtifact(ctx)
	assert.ErrorIs(t, err, errArtifactNameEmpty)
}

func TestShowArtifactPrintsName(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.CommitArtifactData("core-image-1.0", "group-a", nil, nil, nil))

	buf := captureOut(t)
	require.NoError(t, showArtifact(ctx))
	assert.Equal(t, "core-image-1.0\n", buf.String())
}

func TestShowProvidesPrintsSortedPairs(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.CommitArtifactData("core-image-1.0", "group-a", map[string]string{
		"rootfs-image.version": "1.0",
		"artifact_name":        "core-image-1.0",
	}, nil, nil))

	buf := captureOut(t)
	require.NoError(t, showProvides(ctx))
	assert.Contains(t, buf.String(), "artifact_name=core-image-1.0\n")
	assert.Contains(t, buf.String(), "rootfs-image.version=1.0\n")
	assert.Equal(t, "artifact_group=group-a\nartifact_name=core-image-1.0\nrootfs-image.version=1.0\n", buf.String())
}

func TestCheckUpdateUnreachableServerIsError(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, os.WriteFile(ctx.DeviceTypeFile, []byte("device_type=qemux86-64\n"), 0600))
	require.NoError(t, ctx.CommitArtifactData("core-image-1.0", "", nil, nil, nil))
	config := conf.NewMenderConfig()
	config.ServerURL = "https://does-not-resolve.invalid"
	config.Servers = []api.MenderServer{{ServerURL: config.ServerURL}}

	err := checkUpdate(config, ctx)
	assert.Error(t, err)
}
