package broadcast

import (
	"sort"
	"strconv"
	"sync"
	"time"

	cm "github.com/mosaicnetworks/rumor/src/common"
)

// ValueRecord describes how a value entered the store: the node or client it
// was first received from, and when.
type ValueRecord struct {
	Value   int    `codec:"value" json:"value"`
	From    string `codec:"from" json:"from"`
	AddedMs int64  `codec:"added_ms" json:"added_ms"`
}

// Store is a grow-only set of integers. Adding a value twice is a no-op, and
// nothing is ever removed.
type Store interface {
	// Add inserts values received from the given source and returns those
	// that were not already present, in the order given.
	Add(from string, values ...int) ([]int, error)
	Has(value int) bool
	Get(value int) (ValueRecord, error)
	// Values returns a sorted snapshot.
	Values() []int
	Len() int
	Close() error
}

// InmemStore implements the Store interface with a map. Its content is lost
// when the process exits.
type InmemStore struct {
	sync.RWMutex
	records map[int]ValueRecord
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		records: make(map[int]ValueRecord),
	}
}

// Add implements the Store interface.
func (s *InmemStore) Add(from string, values ...int) ([]int, error) {
	now := time.Now().UnixNano() / int64(time.Millisecond)

	var added []int

	s.Lock()
	defer s.Unlock()

	for _, v := range values {
		if _, ok := s.records[v]; ok {
			continue
		}
		s.records[v] = ValueRecord{Value: v, From: from, AddedMs: now}
		added = append(added, v)
	}

	return added, nil
}

// set restores records loaded from elsewhere, keeping their provenance.
func (s *InmemStore) set(records ...ValueRecord) {
	s.Lock()
	defer s.Unlock()

	for _, r := range records {
		if _, ok := s.records[r.Value]; !ok {
			s.records[r.Value] = r
		}
	}
}

// Has implements the Store interface.
func (s *InmemStore) Has(value int) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.records[value]
	return ok
}

// Get implements the Store interface.
func (s *InmemStore) Get(value int) (ValueRecord, error) {
	s.RLock()
	defer s.RUnlock()
	r, ok := s.records[value]
	if !ok {
		return ValueRecord{}, cm.NewStoreErr("Value", cm.KeyNotFound, strconv.Itoa(value))
	}
	return r, nil
}

// Values implements the Store interface. The result is never nil.
func (s *InmemStore) Values() []int {
	s.RLock()
	res := make([]int, 0, len(s.records))
	for v := range s.records {
		res = append(res, v)
	}
	s.RUnlock()

	sort.Ints(res)
	return res
}

// Len implements the Store interface.
func (s *InmemStore) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.records)
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
