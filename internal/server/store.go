package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/CK6170/Rotorbalance-go/models"
	"github.com/CK6170/Rotorbalance-go/modern"
)

type recordKind string

const (
	kindJob    recordKind = "job"
	kindReport recordKind = "report"
)

// Record is an uploaded job or a computed report, kept in memory for the
// lifetime of the server.
type Record struct {
	ID     string
	Kind   recordKind
	Name   string
	Raw    []byte
	Job    *models.JOB
	Report *modern.Report
}

type JobStore struct {
	mu sync.RWMutex
	m  map[string]*Record
}

func NewJobStore() *JobStore {
	return &JobStore{m: make(map[string]*Record)}
}

func (s *JobStore) Put(rec Record) (*Record, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	rec.ID = id
	s.mu.Lock()
	s.m[id] = &rec
	s.mu.Unlock()
	return &rec, nil
}

func (s *JobStore) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[id]
	return r, ok
}

func newID() (string, error) {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
