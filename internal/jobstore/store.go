// Package jobstore persists the in-flight job record and the final result
// entry over a pluggable key-value backend.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Fixed key names shared with the editor and summary screens.
const (
	KeyJobID     = "currentJobId"
	KeyStartedAt = "jobStartTime"
	KeySourceURL = "jobUrl"
	KeyResult    = "__onboarding-Vendors-SDN"
)

// DefaultExpiry is how long a record stays resumable.
const DefaultExpiry = 24 * time.Hour

// Record identifies a job that may still be running server-side.
type Record struct {
	JobID     string
	SourceURL string
	StartedAt time.Time
}

// Age returns how long ago the job was started.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.StartedAt)
}

// ResultEntry is the stored shape of a finished job's profile.
type ResultEntry struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

// Options configures a Store.
type Options struct {
	Expiry time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Store reads and writes the job record. Backend failures never escape Load;
// they are logged and reported as "no record".
type Store struct {
	kv     KV
	expiry time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Store over kv.
func New(kv KV, opts Options) *Store {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		expiry: opts.Expiry,
		now:    opts.Now,
		logger: opts.Logger,
	}
}

// Expiry returns the staleness window.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// Save replaces the record with a new one started now.
func (s *Store) Save(ctx context.Context, jobID, sourceURL string) error {
	err := s.kv.SetMany(ctx, map[string]string{
		KeyJobID:     jobID,
		KeyStartedAt: strconv.FormatInt(s.now().UnixMilli(), 10),
		KeySourceURL: sourceURL,
	})
	if err != nil {
		s.logger.Warn("failed to persist job record", "job_id", jobID, "error", err)
		return fmt.Errorf("save job record: %w", err)
	}
	return nil
}

// Load returns the persisted record, or false if any key is missing or unreadable.
func (s *Store) Load(ctx context.Context) (*Record, bool) {
	jobID, ok := s.get(ctx, KeyJobID)
	if !ok {
		return nil, false
	}
	started, ok := s.get(ctx, KeyStartedAt)
	if !ok {
		return nil, false
	}
	sourceURL, ok := s.get(ctx, KeySourceURL)
	if !ok {
		return nil, false
	}

	ms, err := strconv.ParseInt(started, 10, 64)
	if err != nil {
		s.logger.Warn("invalid job start time", "value", started, "error", err)
		return nil, false
	}

	return &Record{
		JobID:     jobID,
		SourceURL: sourceURL,
		StartedAt: time.UnixMilli(ms),
	}, true
}

func (s *Store) get(ctx context.Context, key string) (string, bool) {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to read job record", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

// Clear removes the record keys. The result entry is left alone.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyJobID, KeyStartedAt, KeySourceURL); err != nil {
		s.logger.Warn("failed to clear job record", "error", err)
		return fmt.Errorf("clear job record: %w", err)
	}
	return nil
}

// IsExpired reports whether the record is older than the expiry window.
func (s *Store) IsExpired(r Record) bool {
	return r.Age(s.now()) > s.expiry
}

// SaveResult writes the finished profile under the result key.
func (s *Store) SaveResult(ctx context.Context, profile json.RawMessage) error {
	raw, err := json.Marshal(ResultEntry{Success: true, Data: profile})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.kv.SetMany(ctx, map[string]string{KeyResult: string(raw)}); err != nil {
		s.logger.Warn("failed to persist result", "error", err)
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// LoadResult returns the stored result entry, or ErrNotFound.
func (s *Store) LoadResult(ctx context.Context) (*ResultEntry, error) {
	raw, err := s.kv.Get(ctx, KeyResult)
	if err != nil {
		return nil, err
	}
	var entry ResultEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("parse result entry: %w", err)
	}
	return &entry, nil
}
