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
package store

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pkg/errors"
)

const DBStoreName = "mender-store"

// DBStore is a Store backed by an LMDB database held in a single file
// (named DBStoreName) inside the given directory.
type DBStore struct {
	env *lmdb.Env
}

// NewDBStore opens (creating if necessary) the LMDB-backed store rooted at
// dirpath.
func NewDBStore(dirpath string) (*DBStore, error) {
	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, errors.Wrap(err, "store: failed to create DB environment")
	}

	if err := env.Open(path.Join(dirpath, DBStoreName), lmdb.NoSubdir, 0600); err != nil {
		return nil, errors.Wrap(err, "store: failed to open DB environment")
	}

	return &DBStore{env: env}, nil
}

func (db *DBStore) Close() error {
	if db.env == nil {
		return nil
	}
	if err := db.env.Close(); err != nil {
		return errors.Wrap(err, "store: failed to close DB")
	}
	db.env = nil
	return nil
}

func (db *DBStore) ReadAll(name string) ([]byte, error) {
	b, err := db.readBytes(name)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (db *DBStore) WriteAll(name string, data []byte) error {
	if db.env == nil {
		return ErrClosed
	}
	return db.writeBytes(name, bytes.NewBuffer(data))
}

func (db *DBStore) Remove(name string) error {
	if db.env == nil {
		return ErrClosed
	}
	err := db.env.Update(func(txn *lmdb.Txn) error {
		return dbiRemove(txn, name)
	})
	if err != nil {
		return errors.Wrapf(err, "store: failed to delete key %s", name)
	}
	return nil
}

func (db *DBStore) OpenRead(name string) (io.ReadCloser, error) {
	b, err := db.readBytes(name)
	if err != nil {
		return nil, err
	}
	return ioutil.NopCloser(b), nil
}

func (db *DBStore) OpenWrite(name string) (WriteCloserCommitter, error) {
	if db.env == nil {
		return nil, ErrClosed
	}
	return &dbStoreWrite{dbs: db, name: name}, nil
}

func (db *DBStore) WriteTransaction(fn func(txn Transaction) error) error {
	if db.env == nil {
		return ErrClosed
	}
	return db.env.Update(func(txn *lmdb.Txn) error {
		return fn(&dbTxn{txn: txn})
	})
}

func (db *DBStore) ReadTransaction(fn func(txn Transaction) error) error {
	if db.env == nil {
		return ErrClosed
	}
	return db.env.View(func(txn *lmdb.Txn) error {
		return fn(&dbTxn{txn: txn})
	})
}

func (db *DBStore) writeBytes(name string, data *bytes.Buffer) error {
	err := db.env.Update(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenRoot(0)
		if err != nil {
			return err
		}
		return txn.Put(dbi, []byte(name), data.Bytes(), 0)
	})
	if err != nil {
		return errors.Wrapf(err, "store: failed to write key %s", name)
	}
	return nil
}

func (db *DBStore) readBytes(name string) (*bytes.Buffer, error) {
	if db.env == nil {
		return nil, ErrClosed
	}

	var b *bytes.Buffer
	err := db.env.View(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenRoot(0)
		if err != nil {
			return err
		}
		data, err := txn.Get(dbi, []byte(name))
		if err != nil {
			return err
		}
		b = bytes.NewBuffer(data)
		return nil
	})

	if err != nil {
		if lmdb.IsNotFound(err) {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrapf(err, "store: failed to read key %s", name)
	}
	return b, nil
}

func dbiRemove(txn *lmdb.Txn, name string) error {
	dbi, err := txn.OpenRoot(0)
	if err != nil {
		return err
	}
	if err := txn.Del(dbi, []byte(name), nil); err != nil {
		if lmdbErr, ok := err.(*lmdb.OpError); ok && lmdbErr.Errno == lmdb.NotFound {
			return nil
		}
		return err
	}
	return nil
}

// dbTxn adapts an *lmdb.Txn to the Transaction interface, valid only for the
// lifetime of the WriteTransaction/ReadTransaction callback it was created
// for.
type dbTxn struct {
	txn *lmdb.Txn
}

func (t *dbTxn) ReadAll(name string) ([]byte, error) {
	dbi, err := t.txn.OpenRoot(0)
	if err != nil {
		return nil, err
	}
	data, err := t.txn.Get(dbi, []byte(name))
	if err != nil {
		if lmdb.IsNotFound(err) {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrapf(err, "store: failed to read key %s", name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (t *dbTxn) WriteAll(name string, data []byte) error {
	dbi, err := t.txn.OpenRoot(0)
	if err != nil {
		return err
	}
	if err := t.txn.Put(dbi, []byte(name), data, 0); err != nil {
		return errors.Wrapf(err, "store: failed to write key %s", name)
	}
	return nil
}

func (t *dbTxn) Remove(name string) error {
	if err := dbiRemove(t.txn, name); err != nil {
		return errors.Wrapf(err, "store: failed to delete key %s", name)
	}
	return nil
}

// dbStoreWrite buffers a streamed write until Commit persists it in a single
// LMDB transaction.
type dbStoreWrite struct {
	dbs  *DBStore
	name string
	data bytes.Buffer
}

func (w *dbStoreWrite) Write(data []byte) (int, error) {
	return w.data.Write(data)
}

func (w *dbStoreWrite) Close() error {
	return nil
}

func (w *dbStoreWrite) Commit() error {
	return w.dbs.writeBytes(w.name, &w.data)
}
