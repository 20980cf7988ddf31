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
package device

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDeviceTypeFile(t *testing.T, content string) string {
	dir, err := ioutil.TempDir("", "mendertest-devicetype-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "device_type")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0600))
	return path
}

func TestGetDeviceTypeValid(t *testing.T) {
	for name, content := range map[string]string{
		"no trailing newline": "device_type=qemux86-64",
		"trailing newline":    "device_type=qemux86-64\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := writeDeviceTypeFile(t, content)
			dt, err := GetDeviceType(path)
			require.NoError(t, err)
			assert.Equal(t, "qemux86-64", dt)
		})
	}
}

func TestGetDeviceTypeInvalidTrailing(t *testing.T) {
	path := writeDeviceTypeFile(t, "device_type=X\nsome debris\n")
	_, err := GetDeviceType(path)
	assert.True(t, errors.Is(err, ErrValue))
}

func TestGetDeviceTypeEmptyFile(t *testing.T) {
	path := writeDeviceTypeFile(t, "")
	_, err := GetDeviceType(path)
	assert.True(t, errors.Is(err, ErrParse))
}

func TestGetDeviceTypeMissingEquals(t *testing.T) {
	path := writeDeviceTypeFile(t, "qemux86-64\n")
	_, err := GetDeviceType(path)
	assert.True(t, errors.Is(err, ErrParse))
}

func TestGetDeviceTypeMissingFile(t *testing.T) {
	_, err := GetDeviceType("/nonexistent/device_type")
	assert.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
