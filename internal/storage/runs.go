package storage

import (
	"encoding/json"
	"slices"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/hakim/connprobe/internal/models"
)

// SaveRun persists a run record, replacing any earlier version with the
// same ID, and indexes it under its host:port target.
func (s *Store) SaveRun(rec *models.RunRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		runs := tx.Bucket([]byte(bucketRuns))
		if err := runs.Put([]byte(rec.ID), data); err != nil {
			return err
		}

		// target -> []run_id
		index := tx.Bucket([]byte(bucketRunIndex))
		key := []byte(rec.Target())

		var ids []string
		if existing := index.Get(key); existing != nil {
			if err := json.Unmarshal(existing, &ids); err != nil {
				return err
			}
		}
		if slices.Contains(ids, rec.ID) {
			return nil
		}
		ids = append(ids, rec.ID)

		indexData, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		return index.Put(key, indexData)
	})
}

// GetRun retrieves a run by ID. It returns nil, nil when no such run exists.
func (s *Store) GetRun(id string) (*models.RunRecord, error) {
	var rec *models.RunRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketRuns)).Get([]byte(id))
		if data == nil {
			return nil
		}
		rec = &models.RunRecord{}
		return json.Unmarshal(data, rec)
	})

	return rec, err
}

// ListRuns retrieves every run for a host:port target, newest first.
func (s *Store) ListRuns(target string) ([]*models.RunRecord, error) {
	var out []*models.RunRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketRunIndex)).Get([]byte(target))
		if data == nil {
			return nil
		}

		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}

		runs := tx.Bucket([]byte(bucketRuns))
		for _, id := range ids {
			raw := runs.Get([]byte(id))
			if raw == nil {
				continue
			}
			var rec models.RunRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// GetLatestRun retrieves the most recent run for a target, or nil.
func (s *Store) GetLatestRun(target string) (*models.RunRecord, error) {
	runs, err := s.ListRuns(target)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// Targets lists every target that has at least one stored run, sorted.
func (s *Store) Targets() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRunIndex)).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}
