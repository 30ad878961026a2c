package broadcast

import (
	"bytes"
	"os"
	"strconv"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/rumor/src/common"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const valuePrefix = "value"

// BadgerStore implements the Store interface with an InmemStore in front of a
// Badger database. Every new value is written through to the database, and
// the InmemStore is filled from the database when the store is opened, so
// that a restarted node keeps what it had already accepted.
type BadgerStore struct {
	inmemStore *InmemStore
	db         *badger.DB
	path       string
	logger     *logrus.Entry
}

// NewBadgerStore opens the database at path, creating it if necessary, and
// loads its content.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	opts.Logger = logger
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
		logger:     logger,
	}

	records, err := store.dbGetRecords()
	if err != nil {
		handle.Close()
		return nil, err
	}
	store.inmemStore.set(records...)

	logger.WithFields(logrus.Fields{
		"path":   path,
		"values": len(records),
	}).Debug("Loaded BadgerStore")

	return store, nil
}

// Add implements the Store interface. Values are always added to memory; an
// error means some of them may not have reached the database.
func (s *BadgerStore) Add(from string, values ...int) ([]int, error) {
	added, _ := s.inmemStore.Add(from, values...)
	if len(added) == 0 {
		return added, nil
	}

	records := make([]ValueRecord, 0, len(added))
	for _, v := range added {
		r, err := s.inmemStore.Get(v)
		if err != nil {
			return added, err
		}
		records = append(records, r)
	}

	return added, s.dbSetRecords(records)
}

// Has implements the Store interface.
func (s *BadgerStore) Has(value int) bool {
	return s.inmemStore.Has(value)
}

// Get implements the Store interface.
func (s *BadgerStore) Get(value int) (ValueRecord, error) {
	r, err := s.inmemStore.Get(value)
	if err != nil {
		r, err = s.dbGetRecord(value)
	}
	return r, err
}

// Values implements the Store interface.
func (s *BadgerStore) Values() []int {
	return s.inmemStore.Values()
}

// Len implements the Store interface.
func (s *BadgerStore) Len() int {
	return s.inmemStore.Len()
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	if err := s.inmemStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// StorePath returns the path of the database.
func (s *BadgerStore) StorePath() string {
	return s.path
}

/*******************************************************************************
DB Methods
*******************************************************************************/

func valueKey(value int) []byte {
	return []byte(valuePrefix + "_" + strconv.Itoa(value))
}

func (s *BadgerStore) dbGetRecord(value int) (ValueRecord, error) {
	var data []byte
	key := valueKey(value)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return ValueRecord{}, mapError(err, "Value", string(key))
	}

	var r ValueRecord
	if err := r.Unmarshal(data); err != nil {
		return ValueRecord{}, cm.NewStoreErr("Value", cm.Corrupted, string(key))
	}
	return r, nil
}

func (s *BadgerStore) dbGetRecords() ([]ValueRecord, error) {
	var records []ValueRecord
	prefix := []byte(valuePrefix + "_")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			var r ValueRecord
			if err := r.Unmarshal(data); err != nil {
				return cm.NewStoreErr("Value", cm.Corrupted, string(item.Key()))
			}
			records = append(records, r)
		}
		return nil
	})

	return records, err
}

func (s *BadgerStore) dbSetRecords(records []ValueRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			val, err := r.Marshal()
			if err != nil {
				return err
			}
			if err := txn.Set(valueKey(r.Value), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func mapError(err error, name, key string) error {
	if err == badger.ErrKeyNotFound {
		return cm.NewStoreErr(name, cm.KeyNotFound, key)
	}
	return err
}

/*******************************************************************************
Encoding
*******************************************************************************/

// Marshal returns the canonical JSON encoding of the record.
func (r *ValueRecord) Marshal() ([]byte, error) {
	var b bytes.Buffer

	jh := new(codec.JsonHandle)
	jh.Canonical = true

	enc := codec.NewEncoder(&b, jh)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (r *ValueRecord) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)

	jh := new(codec.JsonHandle)

	dec := codec.NewDecoder(b, jh)

	return dec.Decode(r)
}
