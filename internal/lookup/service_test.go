package lookup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/skinocare/backend/internal/storage/models"
	"github.com/skinocare/backend/internal/storage/sqlite"
)

func newTestService(t *testing.T, datasetPath string) *Service {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}

	return NewService(store, datasetPath)
}

func TestAddValidation(t *testing.T) {
	service := newTestService(t, "")

	tests := []struct {
		name    string
		record  models.TypeRecord
		wantErr error
	}{
		{
			name:   "valid",
			record: models.TypeRecord{Name: "Melanoma", Description: "desc"},
		},
		{
			name:    "missing name",
			record:  models.TypeRecord{Description: "desc"},
			wantErr: ErrInvalidRecord,
		},
		{
			name:    "missing description",
			record:  models.TypeRecord{Name: "Dermatofibroma"},
			wantErr: ErrInvalidRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := tt.record
			err := service.Add(&record)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Add: %v", err)
				}
				// Nil sequences are normalized to empty, never undefined.
				if record.Treatment == nil || record.NextSteps == nil {
					t.Error("sequences not normalized to empty")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnrichHit(t *testing.T) {
	service := newTestService(t, "")

	record := models.TypeRecord{
		Name:        "Melanoma",
		Description: "The most serious type of skin cancer.",
		Treatment:   []string{"Excision"},
		NextSteps:   []string{"Biopsy"},
	}
	if err := service.Add(&record); err != nil {
		t.Fatalf("Add: %v", err)
	}

	result := service.Enrich(models.PredictionResult{
		PredictedClass: "Melanoma",
		Confidence:     0.91,
	})

	if result.Details.Description != record.Description {
		t.Errorf("description = %q", result.Details.Description)
	}
	if len(result.Details.Treatment) != 1 || result.Details.Treatment[0] != "Excision" {
		t.Errorf("treatment = %v", result.Details.Treatment)
	}
	if result.Prediction.Confidence != 0.91 {
		t.Errorf("confidence = %v", result.Prediction.Confidence)
	}
}

func TestEnrichMissUsesMarker(t *testing.T) {
	service := newTestService(t, "")

	result := service.Enrich(models.PredictionResult{
		PredictedClass: "Unknown_Class",
		Confidence:     0.5,
	})

	if result.Details.Description != models.NoInformationAvailable {
		t.Errorf("description = %q, want marker", result.Details.Description)
	}
	if result.Details.CancerType != "Unknown_Class" {
		t.Errorf("cancerType = %q", result.Details.CancerType)
	}
	if len(result.Details.Treatment) != 0 || len(result.Details.NextSteps) != 0 {
		t.Error("marker state should carry empty lists")
	}
	if result.Details.Treatment == nil || result.Details.NextSteps == nil {
		t.Error("marker lists must be empty, not nil")
	}
}

func TestLoadDataset(t *testing.T) {
	dataset := `[
		{"name": "Melanoma", "description": "d1", "treatment": ["a"], "next_steps": ["b"]},
		{"name": "Dermatofibroma", "description": "d2", "treatment": [], "next_steps": []}
	]`

	path := filepath.Join(t.TempDir(), "cancers.json")
	if err := os.WriteFile(path, []byte(dataset), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	service := newTestService(t, path)

	report, err := service.LoadDataset()
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if report.Inserted != 2 || len(report.Skipped) != 0 {
		t.Errorf("report = %+v", report)
	}

	// A second load skips everything instead of failing.
	report, err = service.LoadDataset()
	if err != nil {
		t.Fatalf("LoadDataset (repeat): %v", err)
	}
	if report.Inserted != 0 || len(report.Skipped) != 2 {
		t.Errorf("repeat report = %+v", report)
	}
}

func TestLoadDatasetMissingFile(t *testing.T) {
	service := newTestService(t, filepath.Join(t.TempDir(), "absent.json"))

	if _, err := service.LoadDataset(); err == nil {
		t.Error("expected error for missing dataset file")
	}
}
