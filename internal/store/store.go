// Package store persists completed-session statistics records and named
// template definitions in an embedded BoltDB file. It does not
// implement recovery of sessions interrupted mid-run — see DESIGN.md.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	bucketSessions  = []byte("sessions")
	bucketTemplates = []byte("templates")
)

// TemplateDef is the serialized form of a built Scheduler template:
// enough to reconstruct its DAG edges/aliases against a Factory the
// caller already owns.
type TemplateDef struct {
	Name     string            `json:"name"`
	Edges    [][2]string       `json:"edges"`
	Singles  []string          `json:"singles"`
	AliasMap map[string]string `json:"alias_map,omitempty"`
}

// SessionRecord is one completed session's statistics record.
type SessionRecord struct {
	RunID        string    `json:"run_id"`
	TemplateName string    `json:"template_name"`
	StatRecord   string    `json:"stat_record"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

// Store wraps a BoltDB file with a small in-memory template cache.
type Store struct {
	db *bbolt.DB

	mu        sync.RWMutex
	templates map[string]TemplateDef

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
}

// Open opens (creating if absent) a BoltDB file at dbPath and warms the
// template cache.
func Open(dbPath string, meter metric.Meter) (*Store, error) {
	opts := &bbolt.Options{Timeout: 1 * time.Second}
	db, err := bbolt.Open(dbPath, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketSessions, bucketTemplates} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	readLatency, _ := meter.Float64Histogram("dagflow_store_read_ms")
	writeLatency, _ := meter.Float64Histogram("dagflow_store_write_ms")

	s := &Store{
		db:           db,
		templates:    make(map[string]TemplateDef),
		readLatency:  readLatency,
		writeLatency: writeLatency,
	}
	if err := s.warmTemplateCache(); err != nil {
		db.Close()
		return nil, fmt.Errorf("warm template cache: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) warmTemplateCache() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTemplates)
		return b.ForEach(func(k, v []byte) error {
			var def TemplateDef
			if err := json.Unmarshal(v, &def); err != nil {
				return nil
			}
			s.templates[def.Name] = def
			return nil
		})
	})
}

// PutTemplate persists a named template definition.
func (s *Store) PutTemplate(def TemplateDef) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTemplates).Put([]byte(def.Name), data)
	})
	if err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	s.mu.Lock()
	s.templates[def.Name] = def
	s.mu.Unlock()
	return nil
}

// GetTemplate looks up a template by name, serving from the in-memory
// cache.
func (s *Store) GetTemplate(name string) (TemplateDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.templates[name]
	return def, ok
}

// PutSession persists a completed session's record, assigning it a
// fresh run id if one isn't already set.
func (s *Store) PutSession(rec SessionRecord) (string, error) {
	start := time.Now()
	if rec.RunID == "" {
		rec.RunID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(rec.RunID), data)
	})
	if s.writeLatency != nil {
		s.writeLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "put_session")))
	}
	if err != nil {
		return "", fmt.Errorf("write session: %w", err)
	}
	return rec.RunID, nil
}

// GetSession retrieves a session record by run id.
func (s *Store) GetSession(runID string) (SessionRecord, bool, error) {
	start := time.Now()
	var rec SessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(runID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rec)
	})
	if s.readLatency != nil {
		s.readLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "get_session")))
	}
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("read session: %w", err)
	}
	return rec, rec.RunID != "", nil
}
