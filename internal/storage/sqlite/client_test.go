package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/skinocare/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}

	return client
}

func melanomaRecord() models.TypeRecord {
	return models.TypeRecord{
		Name:        "Melanoma",
		Description: "The most serious type of skin cancer.",
		Treatment:   []string{"Excision", "Immunotherapy"},
		NextSteps:   []string{"Biopsy"},
	}
}

func TestInsertAndGetByName(t *testing.T) {
	client := newTestClient(t)

	record := melanomaRecord()
	if err := client.InsertType(&record); err != nil {
		t.Fatalf("InsertType: %v", err)
	}
	if record.ID == "" {
		t.Fatal("InsertType did not assign an id")
	}

	got, err := client.GetTypeByName("Melanoma")
	if err != nil {
		t.Fatalf("GetTypeByName: %v", err)
	}

	if got.Name != record.Name || got.Description != record.Description {
		t.Errorf("got %+v, want %+v", got, record)
	}
	if len(got.Treatment) != 2 || got.Treatment[0] != "Excision" {
		t.Errorf("treatment mismatch: %v", got.Treatment)
	}
	if len(got.NextSteps) != 1 || got.NextSteps[0] != "Biopsy" {
		t.Errorf("next steps mismatch: %v", got.NextSteps)
	}
}

func TestGetByNameMiss(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetTypeByName("never-inserted")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestGetByNameCaseSensitive(t *testing.T) {
	client := newTestClient(t)

	record := melanomaRecord()
	if err := client.InsertType(&record); err != nil {
		t.Fatalf("InsertType: %v", err)
	}

	_, err := client.GetTypeByName("melanoma")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup should be case-sensitive, got %v", err)
	}
}

func TestInsertDuplicateNameLeavesOriginal(t *testing.T) {
	client := newTestClient(t)

	original := melanomaRecord()
	if err := client.InsertType(&original); err != nil {
		t.Fatalf("InsertType: %v", err)
	}

	duplicate := melanomaRecord()
	duplicate.Description = "A different description."
	err := client.InsertType(&duplicate)
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("got %v, want ErrDuplicateName", err)
	}

	got, err := client.GetTypeByName("Melanoma")
	if err != nil {
		t.Fatalf("GetTypeByName: %v", err)
	}
	if got.Description != original.Description {
		t.Errorf("original record was modified: %q", got.Description)
	}
}

func TestGetUpdateDeleteByID(t *testing.T) {
	client := newTestClient(t)

	record := melanomaRecord()
	if err := client.InsertType(&record); err != nil {
		t.Fatalf("InsertType: %v", err)
	}

	got, err := client.GetTypeByID(record.ID)
	if err != nil {
		t.Fatalf("GetTypeByID: %v", err)
	}
	if got.Name != "Melanoma" {
		t.Errorf("got name %q", got.Name)
	}

	newDesc := "Updated description."
	updated, err := client.UpdateTypeByID(record.ID, &models.TypeRecordUpdate{
		Description: &newDesc,
	})
	if err != nil {
		t.Fatalf("UpdateTypeByID: %v", err)
	}
	if updated.Description != newDesc {
		t.Errorf("got description %q", updated.Description)
	}
	if updated.Name != "Melanoma" {
		t.Errorf("partial update changed name to %q", updated.Name)
	}

	if err := client.DeleteTypeByID(record.ID); err != nil {
		t.Fatalf("DeleteTypeByID: %v", err)
	}

	if _, err := client.GetTypeByID(record.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v after delete, want ErrNotFound", err)
	}
}

func TestUpdateDeleteMissingID(t *testing.T) {
	client := newTestClient(t)

	desc := "x"
	if _, err := client.UpdateTypeByID("missing", &models.TypeRecordUpdate{Description: &desc}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update: got %v, want ErrNotFound", err)
	}
	if err := client.DeleteTypeByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete: got %v, want ErrNotFound", err)
	}
}

func TestBulkInsertSkipsDuplicates(t *testing.T) {
	client := newTestClient(t)

	first := melanomaRecord()
	if err := client.InsertType(&first); err != nil {
		t.Fatalf("InsertType: %v", err)
	}

	batch := []models.TypeRecord{
		melanomaRecord(),
		{Name: "Dermatofibroma", Description: "A benign nodule.", Treatment: []string{}, NextSteps: []string{}},
		{Name: "Vascular Lesions", Description: "Benign vascular growths.", Treatment: []string{}, NextSteps: []string{}},
	}

	report, err := client.BulkInsertTypes(batch)
	if err != nil {
		t.Fatalf("BulkInsertTypes: %v", err)
	}

	if report.Inserted != 2 {
		t.Errorf("inserted = %d, want 2", report.Inserted)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "Melanoma" {
		t.Errorf("skipped = %v, want [Melanoma]", report.Skipped)
	}

	count, err := client.CountTypes()
	if err != nil {
		t.Fatalf("CountTypes: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
