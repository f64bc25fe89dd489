package store

import (
	"sort"
	"sync"

	"github.com/cbegin/looprec-go/internal/note"
)

// Record is what a track persists between attachments.
type Record struct {
	Events           []note.Event `yaml:"events"`
	ArmedForPlayback bool         `yaml:"isArmedForPlayback"`
	LoopSeconds      float64      `yaml:"loopSeconds,omitempty"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Events = note.Clone(r.Events)
	return r
}

// Store keeps track records keyed by "<rack>_<index>" track ids.
type Store interface {
	Save(id string, rec Record) error
	Load(id string) (Record, bool, error)
	Delete(id string) error
	IDs() []string
}

// Memory is a process-lifetime store. Records are copied on the way in and
// out so callers never share event slices with it.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Save(id string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = rec.Clone()
	return nil
}

func (m *Memory) Load(id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *Memory) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Memory) snapshot() map[string]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(m.records))
	for id, rec := range m.records {
		out[id] = rec.Clone()
	}
	return out
}

func (m *Memory) replace(records map[string]Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record, len(records))
	for id, rec := range records {
		m.records[id] = rec.Clone()
	}
}
