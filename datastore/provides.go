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

// Package datastore models the persisted device context: the flattened
// provides map mirrored from the store's artifact-name/-group/-provides
// slots, and the clears-provides glob list applied on every commit.
package datastore

import (
	"encoding/json"
	"os"
	"path"

	"github.com/pkg/errors"

	"github.com/mendersoftware/mender-updateclient/store"
)

// ErrParse is the category sentinel for malformed artifact-provides JSON.
var ErrParse = errors.New("datastore: parse error")

// ErrType is the category sentinel for an artifact-provides JSON value that
// is not a string.
var ErrType = errors.New("datastore: type error")

// ProvidesMap is the flattened "what is this device" view: artifact_name,
// artifact_group (if any), and every key from artifact-provides.
type ProvidesMap map[string]string

// ClearsProvidesList is an ordered list of glob patterns matched, full-key
// anchored, against the keys of the stored artifact-provides map. The
// artifact-group slot is not matched against them: CommitArtifactData always
// sets or removes it from its own group argument.
type ClearsProvidesList []string

// Matches reports whether key matches any pattern in the list.
func (c ClearsProvidesList) Matches(key string) bool {
	for _, pattern := range c {
		ok, err := path.Match(pattern, key)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// LoadProvides reads artifact-name, artifact-group, and artifact-provides
// out of txn and returns the merged, flattened map. Absent slots are simply
// absent from the result; only a malformed artifact-provides value is an
// error.
func LoadProvides(txn store.Transaction) (ProvidesMap, error) {
	provides := ProvidesMap{}

	if name, err := txn.ReadAll(ArtifactNameKey); err == nil {
		provides["artifact_name"] = string(name)
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "datastore: failed to read artifact-name")
	}

	if group, err := txn.ReadAll(ArtifactGroupKey); err == nil {
		provides["artifact_group"] = string(group)
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "datastore: failed to read artifact-group")
	}

	raw, err := txn.ReadAll(ArtifactProvidesKey)
	if err != nil {
		if os.IsNotExist(err) {
			return provides, nil
		}
		return nil, errors.Wrap(err, "datastore: failed to read artifact-provides")
	}

	var loose map[string]interface{}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, errors.Wrap(ErrParse, err.Error())
	}
	for k, v := range loose {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Wrapf(ErrType, "artifact-provides key %q is not a string", k)
		}
		provides[k] = s
	}

	return provides, nil
}

// applyClears loads the persisted artifact-provides map and drops every key
// matching a pattern in clears. "artifact_group" is a valid pattern target
// too, but clearing it here has no separate effect: CommitArtifactData's
// own group argument always decides the final artifact-group slot.
func applyClears(txn store.Transaction, clears ClearsProvidesList) (ProvidesMap, error) {
	raw, err := txn.ReadAll(ArtifactProvidesKey)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "datastore: failed to read artifact-provides")
	}

	existing := ProvidesMap{}
	if err == nil {
		var loose map[string]interface{}
		if err := json.Unmarshal(raw, &loose); err != nil {
			return nil, errors.Wrap(ErrParse, err.Error())
		}
		for k, v := range loose {
			s, ok := v.(string)
			if !ok {
				return nil, errors.Wrapf(ErrType, "artifact-provides key %q is not a string", k)
			}
			existing[k] = s
		}
	}

	for k := range existing {
		if clears.Matches(k) {
			delete(existing, k)
		}
	}
	return existing, nil
}

// CommitArtifactData applies a new artifact-name/-group, an optional set of
// new provides, and an optional clears-provides list, all within a single
// store transaction, then invokes userTxn so the caller can make further
// writes (e.g. state-data) as part of the same commit. Any error, including
// one returned by userTxn, aborts the whole transaction.
func CommitArtifactData(
	s store.Store,
	name, group string,
	provides ProvidesMap,
	clears ClearsProvidesList,
	userTxn func(txn store.Transaction) error,
) error {
	return s.WriteTransaction(func(txn store.Transaction) error {
		remaining := ProvidesMap{}

		if clears != nil {
			existing, err := applyClears(txn, clears)
			if err != nil {
				return err
			}
			remaining = existing
		}

		for k, v := range provides {
			remaining[k] = v
		}

		if clears != nil || len(provides) > 0 {
			if len(remaining) == 0 {
				if err := txn.Remove(ArtifactProvidesKey); err != nil {
					return errors.Wrap(err, "datastore: failed to remove artifact-provides")
				}
			} else {
				data, err := json.Marshal(remaining)
				if err != nil {
					return errors.Wrap(err, "datastore: failed to marshal artifact-provides")
				}
				if err := txn.WriteAll(ArtifactProvidesKey, data); err != nil {
					return errors.Wrap(err, "datastore: failed to write artifact-provides")
				}
			}
		}

		if err := txn.WriteAll(ArtifactNameKey, []byte(name)); err != nil {
			return errors.Wrap(err, "datastore: failed to write artifact-name")
		}

		if group == "" {
			if err := txn.Remove(ArtifactGroupKey); err != nil {
				return errors.Wrap(err, "datastore: failed to remove artifact-group")
			}
		} else {
			if err := txn.WriteAll(ArtifactGroupKey, []byte(group)); err != nil {
				return errors.Wrap(err, "datastore: failed to write artifact-group")
			}
		}

		if userTxn != nil {
			if err := userTxn(txn); err != nil {
				return err
			}
		}

		return nil
	})
}
