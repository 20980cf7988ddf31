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

// Package store implements the device's persistent key-value store: a
// transactional mapping of byte strings used to hold the device's current
// artifact name, group, and provides.
package store

import (
	"io"

	"github.com/pkg/errors"
)

// ErrClosed is returned by any operation performed on a Store after Close()
// has been called. It signals a programming error in the caller, not a
// recoverable runtime condition: the store was closed while something still
// held a reference to it.
var ErrClosed = errors.New("store: use of closed store")

// NoTransactionSupport is returned by WriteTransaction/ReadTransaction on a
// Store implementation that cannot provide transactional semantics.
var NoTransactionSupport = errors.New("store: no transaction support in this store")

// WriteCloserCommitter wraps io.WriteCloser with a Commit method: writes are
// buffered until Commit is called, at which point they become visible to
// readers.
type WriteCloserCommitter interface {
	io.WriteCloser
	Commit() error
}

// Transaction is the set of operations available inside a WriteTransaction
// or ReadTransaction callback, and is also implemented directly by Store for
// auto-committing, one-shot operations.
type Transaction interface {
	// ReadAll reads the full contents of entry 'name'. Returns
	// os.ErrNotExist if the entry does not exist.
	ReadAll(name string) ([]byte, error)
	// WriteAll replaces the full contents of entry 'name'.
	WriteAll(name string, data []byte) error
	// Remove deletes entry 'name'. Removing a non-existent entry is not
	// an error.
	Remove(name string) error
}

// Store is the device state store (C1): a persistent key-value mapping with
// an explicit transaction object. Individual Read/Write/Remove calls outside
// of a transaction auto-commit.
type Store interface {
	Transaction

	// OpenRead opens entry 'name' for streaming reads.
	OpenRead(name string) (io.ReadCloser, error)
	// OpenWrite opens entry 'name' for streaming writes. The write is
	// only made durable once Commit() is called on the returned handle.
	OpenWrite(name string) (WriteCloserCommitter, error)

	// Close releases the store. Any subsequent call on the Store or on a
	// Transaction handle derived from it returns ErrClosed.
	Close() error

	// WriteTransaction invokes fn with a transaction handle. If fn
	// returns nil, the batch of writes is committed atomically; any
	// error aborts the whole batch and is returned unwrapped to the
	// caller.
	WriteTransaction(fn func(txn Transaction) error) error
	// ReadTransaction is the read-only counterpart of WriteTransaction.
	ReadTransaction(fn func(txn Transaction) error) error
}
