// Package lookup translates ML class labels into curated lesion content and
// owns the CRUD surface over the TypeRecord store.
package lookup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/skinocare/backend/internal/metrics"
	"github.com/skinocare/backend/internal/storage/models"
	"github.com/skinocare/backend/internal/storage/sqlite"
	"github.com/skinocare/backend/pkg/logger"
)

var (
	ErrNotFound      = sqlite.ErrNotFound
	ErrDuplicateName = sqlite.ErrDuplicateName

	ErrInvalidRecord = errors.New("invalid type record")
)

// Service has no caching layer: every call hits the store directly.
type Service struct {
	store       *sqlite.Client
	datasetPath string
}

func NewService(store *sqlite.Client, datasetPath string) *Service {
	return &Service{
		store:       store,
		datasetPath: datasetPath,
	}
}

// GetByName resolves a predicted class label to its curated record. A miss
// is the normal "no curated content" outcome; callers must not treat it as
// a system failure.
func (s *Service) GetByName(name string) (*models.TypeRecord, error) {
	return s.store.GetTypeByName(name)
}

func (s *Service) Add(record *models.TypeRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	return s.store.InsertType(record)
}

func (s *Service) GetAll() ([]models.TypeRecord, error) {
	return s.store.GetAllTypes()
}

func (s *Service) GetByID(id string) (*models.TypeRecord, error) {
	return s.store.GetTypeByID(id)
}

func (s *Service) UpdateByID(id string, update *models.TypeRecordUpdate) (*models.TypeRecord, error) {
	if update.Name != nil && *update.Name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidRecord)
	}
	return s.store.UpdateTypeByID(id, update)
}

func (s *Service) DeleteByID(id string) error {
	return s.store.DeleteTypeByID(id)
}

// Enrich attaches curated content to a prediction. A lookup miss becomes the
// explicit no-information marker so downstream rendering and the report
// assembler never see undefined content.
func (s *Service) Enrich(prediction models.PredictionResult) models.AnalysisResult {
	record, err := s.GetByName(prediction.PredictedClass)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.LookupMissesTotal.Inc()
		} else {
			logger.Warn("Type lookup failed",
				zap.String("class", prediction.PredictedClass),
				zap.Error(err),
			)
		}
		return models.AnalysisResult{
			Prediction: prediction,
			Details:    models.NoInfo(prediction.PredictedClass),
		}
	}

	return models.AnalysisResult{
		Prediction: prediction,
		Details: models.LesionInfo{
			CancerType:  record.Name,
			Description: record.Description,
			Treatment:   record.Treatment,
			NextSteps:   record.NextSteps,
		},
	}
}

// LoadDataset seeds the store from the bundled dataset file. Best-effort:
// records already present are skipped and reported back to the caller.
func (s *Service) LoadDataset() (*models.BulkLoadReport, error) {
	data, err := os.ReadFile(s.datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}

	var records []models.TypeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse dataset file: %w", err)
	}

	for i := range records {
		if err := validateRecord(&records[i]); err != nil {
			return nil, fmt.Errorf("dataset record %d: %w", i, err)
		}
	}

	report, err := s.store.BulkInsertTypes(records)
	if err != nil {
		return nil, err
	}

	logger.Info("Dataset loaded",
		zap.String("path", s.datasetPath),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", len(report.Skipped)),
	)

	return report, nil
}

// DatasetPath exposes the configured dataset location for the raw listing
// endpoint, which serves the file directly and bypasses the store.
func (s *Service) DatasetPath() string {
	return s.datasetPath
}

func (s *Service) Count() (int, error) {
	return s.store.CountTypes()
}

func validateRecord(record *models.TypeRecord) error {
	if record.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	if record.Description == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidRecord)
	}
	if record.Treatment == nil {
		record.Treatment = []string{}
	}
	if record.NextSteps == nil {
		record.NextSteps = []string{}
	}
	return nil
}
