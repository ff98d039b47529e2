// Package session holds per-session analysis state: the ordered list of
// uploaded images and their optional results, and the orchestration of
// single and batch inference calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skinocare/backend/internal/storage/models"
	"github.com/skinocare/backend/pkg/logger"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrIndexOutOfRange = errors.New("image index out of range")
	ErrTooManyImages   = errors.New("too many images in session")
	ErrImageTooLarge   = errors.New("image exceeds size limit")
	ErrNoImages        = errors.New("no images to analyze")
)

// Predictor is the inference dependency; tests substitute a fake.
type Predictor interface {
	Predict(ctx context.Context, image []byte, filename string) (*models.PredictionResult, error)
	HealthCheck(ctx context.Context) bool
}

// Enricher attaches curated content to a raw prediction.
type Enricher interface {
	Enrich(prediction models.PredictionResult) models.AnalysisResult
}

// BatchError reports which entries were left unresolved by AnalyzeAll.
// One bad image never stops the rest of the batch.
type BatchError struct {
	Failed []int
	Errs   []error
}

func (e *BatchError) Error() string {
	indices := make([]string, len(e.Failed))
	for i, idx := range e.Failed {
		indices[i] = fmt.Sprintf("%d", idx)
	}
	return fmt.Sprintf("analysis failed for image(s) %s", strings.Join(indices, ", "))
}

// ImageFile is one uploaded image payload.
type ImageFile struct {
	Data        []byte
	ContentType string
	Filename    string
}

// entry wraps an AnalysisEntry with its in-flight bookkeeping. issued is an
// issue-order generation: a resolving call writes its result only if no
// newer call for the same entry has started since (last-write-wins by issue
// order, so a slow stale response cannot overwrite fresher data).
type entry struct {
	models.AnalysisEntry
	issued uint64
}

type Session struct {
	ID string

	maxImages  int
	maxImageKB int

	mu         sync.Mutex
	entries    []*entry
	selected   int
	lastActive time.Time
}

func newSession(maxImages, maxImageKB int) *Session {
	return &Session{
		ID:         uuid.New().String(),
		maxImages:  maxImages,
		maxImageKB: maxImageKB,
		selected:   -1,
		lastActive: time.Now(),
	}
}

// AddImages appends entries in upload order with null results. It never
// blocks on analysis.
func (s *Session) AddImages(files []ImageFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.maxImages > 0 && len(s.entries)+len(files) > s.maxImages {
		return fmt.Errorf("%w: limit %d", ErrTooManyImages, s.maxImages)
	}

	for _, f := range files {
		if s.maxImageKB > 0 && len(f.Data) > s.maxImageKB*1024 {
			return fmt.Errorf("%w: %q is %d bytes, limit %d KB", ErrImageTooLarge, f.Filename, len(f.Data), s.maxImageKB)
		}
	}

	for _, f := range files {
		s.entries = append(s.entries, &entry{
			AnalysisEntry: models.AnalysisEntry{
				Image:       f.Data,
				ContentType: f.ContentType,
				Filename:    f.Filename,
			},
		})
	}

	return nil
}

// AnalyzeOne runs inference for the entry at index and stores the enriched
// result. On failure the entry keeps its previous state and the error
// surfaces to the caller; other entries are never affected.
func (s *Session) AnalyzeOne(ctx context.Context, index int, predictor Predictor, enricher Enricher) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.entries) {
		s.mu.Unlock()
		return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, index, len(s.entries))
	}
	e := s.entries[index]
	e.issued++
	gen := e.issued
	image := e.Image
	filename := e.Filename
	s.touch()
	s.mu.Unlock()

	result, err := predictor.Predict(ctx, image, filename)
	if err != nil {
		return fmt.Errorf("analyze image %d: %w", index, err)
	}

	enriched := enricher.Enrich(*result)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if gen != e.issued {
		// A newer call for this entry started while this one was in
		// flight; its result supersedes ours regardless of completion
		// order.
		logger.Debug("Discarding stale analysis result",
			zap.String("session_id", s.ID),
			zap.Int("index", index),
		)
		return nil
	}

	e.Result = &enriched
	return nil
}

// AnalyzeAll analyzes every entry whose result is still null, strictly
// sequentially in ascending index order. One in-flight inference call at a
// time is a deliberate backpressure choice. Per-entry failures accumulate
// into a BatchError; processing never stops early.
func (s *Session) AnalyzeAll(ctx context.Context, predictor Predictor, enricher Enricher) error {
	s.mu.Lock()
	if len(s.entries) == 0 {
		s.mu.Unlock()
		return ErrNoImages
	}

	pending := make([]int, 0, len(s.entries))
	for i, e := range s.entries {
		if e.Result == nil {
			pending = append(pending, i)
		}
	}
	s.mu.Unlock()

	batchErr := &BatchError{}
	for _, i := range pending {
		if err := s.AnalyzeOne(ctx, i, predictor, enricher); err != nil {
			logger.Warn("Batch analysis entry failed",
				zap.String("session_id", s.ID),
				zap.Int("index", i),
				zap.Error(err),
			)
			batchErr.Failed = append(batchErr.Failed, i)
			batchErr.Errs = append(batchErr.Errs, err)
		}
	}

	if len(batchErr.Failed) > 0 {
		return batchErr
	}
	return nil
}

// RemoveImage deletes the entry at index, shifting later entries down. The
// selection follows the same logical entry: cleared if it pointed at the
// removed index, decremented if it pointed past it.
func (s *Session) RemoveImage(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if index < 0 || index >= len(s.entries) {
		return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, index, len(s.entries))
	}

	s.entries = append(s.entries[:index], s.entries[index+1:]...)

	if s.selected != -1 {
		if index == s.selected {
			s.selected = -1
		} else if index < s.selected {
			s.selected--
		}
	}

	return nil
}

// Select sets the active entry; -1 clears the selection.
func (s *Session) Select(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if index < -1 || index >= len(s.entries) {
		return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, index, len(s.entries))
	}

	s.selected = index
	return nil
}

// Reset clears all entries and selection unconditionally. In-flight calls
// resolve into discarded entry objects, which is harmless.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.entries = nil
	s.selected = -1
}

// EntrySnapshot is the serializable view of one entry.
type EntrySnapshot struct {
	Index       int                    `json:"index"`
	Filename    string                 `json:"filename"`
	ContentType string                 `json:"content_type"`
	SizeBytes   int                    `json:"size_bytes"`
	Analyzed    bool                   `json:"analyzed"`
	Result      *models.AnalysisResult `json:"result,omitempty"`
}

type Snapshot struct {
	ID       string          `json:"id"`
	Selected int             `json:"selected"`
	Entries  []EntrySnapshot `json:"entries"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:       s.ID,
		Selected: s.selected,
		Entries:  make([]EntrySnapshot, len(s.entries)),
	}

	for i, e := range s.entries {
		snap.Entries[i] = EntrySnapshot{
			Index:       i,
			Filename:    e.Filename,
			ContentType: e.ContentType,
			SizeBytes:   len(e.Image),
			Analyzed:    e.Result != nil,
			Result:      e.Result,
		}
	}

	return snap
}

// ReportEntries returns a copy of all entries, in order, for the report
// assembler. The assembler filters unanalyzed entries itself.
func (s *Session) ReportEntries() []models.AnalysisEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]models.AnalysisEntry, len(s.entries))
	for i, e := range s.entries {
		entries[i] = e.AnalysisEntry
	}
	return entries
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// touch must be called with s.mu held.
func (s *Session) touch() {
	s.lastActive = time.Now()
}

// Manager is the in-memory session registry. Sessions are never persisted;
// idle ones are swept after the configured TTL.
type Manager struct {
	maxImages  int
	maxImageKB int
	idleTTL    time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	stop chan struct{}
	once sync.Once
}

func NewManager(maxImages, maxImageKB int, idleTTL time.Duration) *Manager {
	m := &Manager{
		maxImages:  maxImages,
		maxImageKB: maxImageKB,
		idleTTL:    idleTTL,
		sessions:   make(map[string]*Session),
		stop:       make(chan struct{}),
	}

	if idleTTL > 0 {
		go m.sweep()
	}

	return m
}

func (m *Manager) Create() *Session {
	s := newSession(m.maxImages, m.maxImageKB)

	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	logger.Info("Session created",
		zap.String("session_id", s.ID),
		zap.Int("active_sessions", count),
	)

	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}

	s.Reset()
	delete(m.sessions, id)
	return nil
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Manager) sweep() {
	interval := m.idleTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastActive.Before(cutoff)
		s.mu.Unlock()
		if idle {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		sort.Strings(expired)
		logger.Info("Idle sessions evicted", zap.Int("count", len(expired)))
	}
}
