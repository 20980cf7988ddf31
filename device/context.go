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
	"os"

	"github.com/mendersoftware/mender-updateclient/datastore"
	"github.com/mendersoftware/mender-updateclient/store"
)

// Context ties the persistent state store to the device's local identity
// files, and is the thing the deployment client and update-module driver
// are built against: "what does this device currently look like".
type Context struct {
	Store          store.Store
	DeviceTypeFile string
}

// NewContext wraps an already-open store.Store and the path to the
// device_type file into a Context.
func NewContext(s store.Store, deviceTypeFile string) *Context {
	return &Context{Store: s, DeviceTypeFile: deviceTypeFile}
}

// LoadProvides returns the flattened provides map: artifact_name,
// artifact_group (if set) and every key from artifact-provides.
func (c *Context) LoadProvides() (datastore.ProvidesMap, error) {
	var provides datastore.ProvidesMap
	err := c.Store.ReadTransaction(func(txn store.Transaction) error {
		var err error
		provides, err = datastore.LoadProvides(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return provides, nil
}

// GetDeviceType reads the device_type file.
func (c *Context) GetDeviceType() (string, error) {
	return GetDeviceType(c.DeviceTypeFile)
}

// GetCurrentArtifactName returns the raw artifact-name slot, or "" if the
// device has never had an artifact installed.
func (c *Context) GetCurrentArtifactName() (string, error) {
	return c.readStringSlot(datastore.ArtifactNameKey)
}

// GetCurrentArtifactGroup returns the raw artifact-group slot, or "" if the
// currently installed artifact does not belong to a group.
func (c *Context) GetCurrentArtifactGroup() (string, error) {
	return c.readStringSlot(datastore.ArtifactGroupKey)
}

func (c *Context) readStringSlot(key string) (string, error) {
	var value string
	err := c.Store.ReadTransaction(func(txn store.Transaction) error {
		data, err := txn.ReadAll(key)
		if os.IsNotExist(err) {
			return nil
		} else if err != nil {
			return err
		}
		value = string(data)
		return nil
	})
	return value, err
}

// CommitArtifactData atomically applies a new artifact-name/-group plus
// optional provides/clears-provides, then runs userTxn inside the same
// transaction so the caller can persist additional state (e.g. the
// in-progress update's state data) as part of the same commit.
func (c *Context) CommitArtifactData(
	name, group string,
	provides datastore.ProvidesMap,
	clears datastore.ClearsProvidesList,
	userTxn func(txn store.Transaction) error,
) error {
	return datastore.CommitArtifactData(c.Store, name, group, provides, clears, userTxn)
}
