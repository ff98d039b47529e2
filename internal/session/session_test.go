package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skinocare/backend/internal/storage/models"
)

// fakePredictor returns the class named per image payload, or fails for
// payloads listed in failFor.
type fakePredictor struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
	healthy bool
	// block, when set, is received from before each Predict returns,
	// letting tests control completion order.
	block chan struct{}
}

func newFakePredictor() *fakePredictor {
	return &fakePredictor{
		failFor: make(map[string]error),
		healthy: true,
	}
}

func (p *fakePredictor) Predict(ctx context.Context, image []byte, filename string) (*models.PredictionResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, string(image))
	block := p.block
	p.mu.Unlock()

	if block != nil {
		<-block
	}

	if err, ok := p.failFor[string(image)]; ok {
		return nil, err
	}

	return &models.PredictionResult{
		PredictedClass: "class-" + string(image),
		Confidence:     0.8,
		Probabilities:  map[string]float64{},
	}, nil
}

func (p *fakePredictor) HealthCheck(ctx context.Context) bool {
	return p.healthy
}

// passthroughEnricher marks every prediction with the no-info content.
type passthroughEnricher struct{}

func (passthroughEnricher) Enrich(prediction models.PredictionResult) models.AnalysisResult {
	return models.AnalysisResult{
		Prediction: prediction,
		Details:    models.NoInfo(prediction.PredictedClass),
	}
}

func imageFiles(names ...string) []ImageFile {
	files := make([]ImageFile, len(names))
	for i, n := range names {
		files[i] = ImageFile{
			Data:        []byte(n),
			ContentType: "image/jpeg",
			Filename:    n + ".jpg",
		}
	}
	return files
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	return newSession(20, 1024)
}

func TestAddImagesPreservesOrder(t *testing.T) {
	s := newTestSession(t)

	if err := s.AddImages(imageFiles("a", "b", "c")); err != nil {
		t.Fatalf("AddImages: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Entries) != 3 {
		t.Fatalf("len = %d, want 3", len(snap.Entries))
	}
	for i, want := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if snap.Entries[i].Filename != want {
			t.Errorf("entry %d filename = %q, want %q", i, snap.Entries[i].Filename, want)
		}
		if snap.Entries[i].Analyzed {
			t.Errorf("entry %d should not be analyzed on upload", i)
		}
	}
	if snap.Selected != -1 {
		t.Errorf("selection = %d, want -1", snap.Selected)
	}
}

func TestAddImagesLimits(t *testing.T) {
	s := newSession(2, 1)

	if err := s.AddImages(imageFiles("a", "b", "c")); !errors.Is(err, ErrTooManyImages) {
		t.Errorf("got %v, want ErrTooManyImages", err)
	}

	big := []ImageFile{{Data: make([]byte, 2048), Filename: "big.jpg"}}
	if err := s.AddImages(big); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("got %v, want ErrImageTooLarge", err)
	}
}

func TestRemoveImageShiftsSelection(t *testing.T) {
	tests := []struct {
		name         string
		selected     int
		remove       int
		wantSelected int
		wantFirst    string
	}{
		{"remove before selection", 1, 0, 0, "b.jpg"},
		{"remove selection itself", 1, 1, -1, "a.jpg"},
		{"remove after selection", 0, 1, 0, "a.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			if err := s.AddImages(imageFiles("a", "b")); err != nil {
				t.Fatalf("AddImages: %v", err)
			}
			if err := s.Select(tt.selected); err != nil {
				t.Fatalf("Select: %v", err)
			}

			if err := s.RemoveImage(tt.remove); err != nil {
				t.Fatalf("RemoveImage: %v", err)
			}

			snap := s.Snapshot()
			if len(snap.Entries) != 1 {
				t.Fatalf("len = %d, want 1", len(snap.Entries))
			}
			if snap.Selected != tt.wantSelected {
				t.Errorf("selection = %d, want %d", snap.Selected, tt.wantSelected)
			}
			if snap.Entries[0].Filename != tt.wantFirst {
				t.Errorf("remaining entry = %q, want %q", snap.Entries[0].Filename, tt.wantFirst)
			}
		})
	}
}

func TestRemoveImageOutOfRange(t *testing.T) {
	s := newTestSession(t)
	if err := s.RemoveImage(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("got %v, want ErrIndexOutOfRange", err)
	}
}

func TestAnalyzeOne(t *testing.T) {
	s := newTestSession(t)
	predictor := newFakePredictor()

	if err := s.AddImages(imageFiles("a")); err != nil {
		t.Fatalf("AddImages: %v", err)
	}

	if err := s.AnalyzeOne(context.Background(), 0, predictor, passthroughEnricher{}); err != nil {
		t.Fatalf("AnalyzeOne: %v", err)
	}

	snap := s.Snapshot()
	if !snap.Entries[0].Analyzed {
		t.Fatal("entry not analyzed")
	}
	if got := snap.Entries[0].Result.Prediction.PredictedClass; got != "class-a" {
		t.Errorf("predicted class = %q", got)
	}
}

// Only removal and explicit selection may move the selection; analysis of
// any kind leaves it where it is.
func TestAnalysisDoesNotMoveSelection(t *testing.T) {
	s := newTestSession(t)
	predictor := newFakePredictor()

	if err := s.AddImages(imageFiles("a", "b", "c")); err != nil {
		t.Fatalf("AddImages: %v", err)
	}

	if snap := s.Snapshot(); snap.Selected != -1 {
		t.Fatalf("initial selection = %d, want -1", snap.Selected)
	}

	if err := s.AnalyzeOne(context.Background(), 2, predictor, passthroughEnricher{}); err != nil {
		t.Fatalf("AnalyzeOne: %v", err)
	}
	if snap := s.Snapshot(); snap.Selected != -1 {
		t.Errorf("selection after single analysis = %d, want -1", snap.Selected)
	}

	if err := s.Select(1); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := s.AnalyzeAll(context.Background(), predictor, passthroughEnricher{}); err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if snap := s.Snapshot(); snap.Selected != 1 {
		t.Errorf("selection after batch analysis = %d, want 1", snap.Selected)
	}
}

func TestAnalyzeOneOutOfRange(t *testing.T) {
	s := newTestSession(t)
	predictor := newFakePredictor()

	for _, index := range []int{-1, 0, 5} {
		if err := s.AnalyzeOne(context.Background(), index, predictor, passthroughEnricher{}); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("index %d: got %v, want ErrIndexOutOfRange", index, err)
		}
	}
}

func TestAnalyzeOneFailureKeepsEntry(t *testing.T) {
	s := newTestSession(t)
	predictor := newFakePredictor()
	predictor.failFor["a"] = errors.New("inference down")

	if err := s.AddImages(imageFiles("a")); err != nil {
		t.Fatalf("AddImages: %v", err)
	}

	err := s.AnalyzeOne(context.Background(), 0, predictor, passthroughEnricher{})
	if err == nil {
		t.Fatal("expected error")
	}

	snap := s.Snapshot()
	if len(snap.Entries) != 1 {
		t.Fatal("image discarded on failure")
	}
	if snap.Entries[0].Analyzed {
		t.Error("failed entry should keep a null result")
	}
}

func TestAnalyzeAllIsolatesFailures(t *testing.T) {
	s := newTestSession(t)
	predictor := newFakePredictor()
	predictor.failFor["b"] = errors.New("inference down")

	if err := s.AddImages(imageFiles("a", "b", "c")); err != nil {
		t.Fatalf("AddImages: %v", err)
	}

	err := s.AnalyzeAll(context.Background(), predictor, passthroughEnricher{})

	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("got %v, want BatchError", err)
	}
	if len(batchErr.Failed) != 1 || batchErr.Failed[0] != 1 {
		t.Errorf("failed = %v, want [1]", batchErr.Failed)
	}

	snap := s.Snapshot()
	for i, wantAnalyzed := range []bool{true, false, true} {
		if snap.Entries[i].Analyzed != wantAnalyzed {
			t.Errorf("entry %d analyzed = %v, want %v", i, snap.Entries[i].Analyzed, wantAnalyzed)
		}
	}
}

func TestAnalyzeAllSkipsResolvedSequentially(t *testing.T) {
	s := newTestSession(t)
	predictor := newFakePredictor()

	if err := s.AddImages(imageFiles("a", "b", "c")); err != nil {
		t.Fatalf("AddImages: %v", err)
	}
	if err := s.AnalyzeOne(context.Background(), 1, predictor, passthroughEnricher{}); err != nil {
		t.Fatalf("AnalyzeOne: %v", err)
	}

	if err := s.AnalyzeAll(context.Background(), predictor, passthroughEnricher{}); err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}

	// First call analyzed "b"; the batch must only process the pending
	// entries, in ascending order.
	predictor.mu.Lock()
	defer predictor.mu.Unlock()
	want := []string{"b", "a", "c"}
	if len(predictor.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", predictor.calls, want)
	}
	for i := range want {
		if predictor.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, predictor.calls[i], want[i])
		}
	}
}

func TestAnalyzeAllEmpty(t *testing.T) {
	s := newTestSession(t)
	predictor := newFakePredictor()

	if err := s.AnalyzeAll(context.Background(), predictor, passthroughEnricher{}); !errors.Is(err, ErrNoImages) {
		t.Errorf("got %v, want ErrNoImages", err)
	}
}

// A stale in-flight result must not overwrite the result of a call issued
// later, even when the stale call resolves last.
func TestAnalyzeOneStaleResultDiscarded(t *testing.T) {
	s := newTestSession(t)
	if err := s.AddImages(imageFiles("a")); err != nil {
		t.Fatalf("AddImages: %v", err)
	}

	slow := newFakePredictor()
	slow.block = make(chan struct{})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.AnalyzeOne(context.Background(), 0, slow, staleEnricher{tag: "stale"})
	}()

	// Wait for the first call to be in flight.
	deadline := time.After(2 * time.Second)
	for {
		slow.mu.Lock()
		started := len(slow.calls) > 0
		slow.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first call never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Issue and complete a second call while the first is still blocked.
	fast := newFakePredictor()
	if err := s.AnalyzeOne(context.Background(), 0, fast, staleEnricher{tag: "fresh"}); err != nil {
		t.Fatalf("second AnalyzeOne: %v", err)
	}

	close(slow.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first AnalyzeOne: %v", err)
	}

	snap := s.Snapshot()
	if got := snap.Entries[0].Result.Details.Description; got != "fresh" {
		t.Errorf("result = %q, want the later-issued call to win", got)
	}
}

type staleEnricher struct {
	tag string
}

func (e staleEnricher) Enrich(prediction models.PredictionResult) models.AnalysisResult {
	return models.AnalysisResult{
		Prediction: prediction,
		Details: models.LesionInfo{
			CancerType:  prediction.PredictedClass,
			Description: e.tag,
			Treatment:   []string{},
			NextSteps:   []string{},
		},
	}
}

func TestReset(t *testing.T) {
	s := newTestSession(t)
	if err := s.AddImages(imageFiles("a", "b")); err != nil {
		t.Fatalf("AddImages: %v", err)
	}
	if err := s.Select(1); err != nil {
		t.Fatalf("Select: %v", err)
	}

	s.Reset()

	snap := s.Snapshot()
	if len(snap.Entries) != 0 || snap.Selected != -1 {
		t.Errorf("snapshot after reset = %+v", snap)
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(20, 1024, 0)
	defer m.Close()

	s := m.Create()
	if s.ID == "" {
		t.Fatal("session has no id")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != s {
		t.Error("Get returned a different session")
	}

	if _, err := m.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}

	if err := m.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("count = %d after delete", m.Count())
	}
	if err := m.Delete(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}

func TestBatchErrorMessage(t *testing.T) {
	err := &BatchError{Failed: []int{1, 4}}
	want := "analysis failed for image(s) 1, 4"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
