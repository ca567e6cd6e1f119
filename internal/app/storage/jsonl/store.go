package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thermolink/sensord/internal/app/domain/history"
	"github.com/thermolink/sensord/internal/app/storage"
	"github.com/thermolink/sensord/pkg/logger"
)

var _ storage.HistoryStore = (*Store)(nil)

// Store is an append-only JSONL history backend. One JSON record per line;
// the full set is kept in memory for queries and reloaded once at open.
type Store struct {
	mu      sync.RWMutex
	path    string
	log     *logger.Logger
	file    *os.File
	writer  *bufio.Writer
	samples []history.Sample
}

// record is the wire form of one line. Timestamps are unix seconds.
type record struct {
	ID           string   `json:"id"`
	DeviceID     string   `json:"deviceId"`
	TemperatureC *float64 `json:"temperatureC,omitempty"`
	HumidityPct  *float64 `json:"humidityPct,omitempty"`
	SampledAt    int64    `json:"sampledAt"`
	CreatedAt    int64    `json:"createdAt"`
}

// Open creates or loads a history file. Corrupt lines abort the load with
// the offending line number so operators can repair the file.
func Open(path string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDefault("history-file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, log: log, file: f, writer: bufio.NewWriter(f)}
	if err := s.load(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.samples = nil

	scanner := bufio.NewScanner(s.file)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		s.samples = append(s.samples, rec.sample())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	s.writer = bufio.NewWriter(s.file)

	s.log.WithField("path", s.path).
		WithField("records", len(s.samples)).
		Info("history file loaded")
	return nil
}

// Close flushes buffered writes and closes the file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}

func (s *Store) AppendSample(_ context.Context, sample history.Sample) (history.Sample, error) {
	if sample.DeviceID == "" {
		return history.Sample{}, fmt.Errorf("device id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sample.SampledAt.IsZero() {
		sample.SampledAt = now
	}
	sample.CreatedAt = now

	payload, err := json.Marshal(newRecord(sample))
	if err != nil {
		return history.Sample{}, err
	}
	if _, err := s.writer.Write(payload); err != nil {
		return history.Sample{}, err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return history.Sample{}, err
	}
	if err := s.writer.Flush(); err != nil {
		return history.Sample{}, err
	}
	if err := s.file.Sync(); err != nil {
		return history.Sample{}, err
	}

	s.samples = append(s.samples, cloneSample(sample))
	return sample, nil
}

func (s *Store) ListSamples(_ context.Context, deviceID string, from, to time.Time) ([]history.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []history.Sample
	for _, sample := range s.samples {
		if sample.DeviceID != deviceID {
			continue
		}
		if !from.IsZero() && sample.SampledAt.Before(from) {
			continue
		}
		if !to.IsZero() && sample.SampledAt.After(to) {
			continue
		}
		result = append(result, cloneSample(sample))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SampledAt.Before(result[j].SampledAt) })
	return result, nil
}

// DeleteSamplesBefore rewrites the file without the expired records. The
// rewrite goes through a temp file and rename so a crash cannot lose the
// surviving records.
func (s *Store) DeleteSamplesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]history.Sample, 0, len(s.samples))
	var removed int64
	for _, sample := range s.samples {
		if sample.SampledAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, sample)
	}
	if removed == 0 {
		return 0, nil
	}

	tmpPath := s.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(tmp)
	for _, sample := range kept {
		payload, err := json.Marshal(newRecord(sample))
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return 0, err
		}
		if _, err := w.Write(payload); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return 0, err
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := s.writer.Flush(); err != nil {
		return 0, err
	}
	if err := s.file.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return 0, err
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	s.samples = kept

	s.log.WithField("removed", removed).
		WithField("cutoff", cutoff.UTC().Format(time.RFC3339)).
		Info("history file compacted")
	return removed, nil
}

func newRecord(sample history.Sample) record {
	return record{
		ID:           sample.ID,
		DeviceID:     sample.DeviceID,
		TemperatureC: sample.TemperatureC,
		HumidityPct:  sample.HumidityPct,
		SampledAt:    sample.SampledAt.UTC().Unix(),
		CreatedAt:    sample.CreatedAt.UTC().Unix(),
	}
}

func (r record) sample() history.Sample {
	return history.Sample{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		TemperatureC: r.TemperatureC,
		HumidityPct:  r.HumidityPct,
		SampledAt:    time.Unix(r.SampledAt, 0).UTC(),
		CreatedAt:    time.Unix(r.CreatedAt, 0).UTC(),
	}
}

func cloneSample(sample history.Sample) history.Sample {
	if sample.TemperatureC != nil {
		c := *sample.TemperatureC
		sample.TemperatureC = &c
	}
	if sample.HumidityPct != nil {
		c := *sample.HumidityPct
		sample.HumidityPct = &c
	}
	return sample
}
