package tracking

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/funilcrm/backend/internal/board"
	"github.com/funilcrm/backend/internal/leads"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&LeadMovement{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestNewRecorderRequiresDatabase(t *testing.T) {
	if _, err := NewRecorder(RecorderConfig{}); err == nil {
		t.Fatal("expected error without database")
	}
}

func TestRecordMovePersistsAuditRow(t *testing.T) {
	db := openTestDatabase(t)
	movedAt := time.Unix(1700000000, 0)
	recorder, err := NewRecorder(RecorderConfig{Database: db, Clock: func() time.Time { return movedAt }})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := board.MoveEvent{
		Lead:             leads.Lead{LeadID: "lead-1", SubOriginID: "origin-1"},
		SubOriginID:      "origin-1",
		FromPipelineID:   "novo",
		ToPipelineID:     "quente",
		FromPipelineName: "Novo",
		ToPipelineName:   "Quente",
	}
	if err := recorder.RecordMove(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored LeadMovement
	if err := db.Where("lead_id = ?", "lead-1").Take(&stored).Error; err != nil {
		t.Fatalf("movement row missing: %v", err)
	}
	if stored.FromPipelineID != "novo" || stored.ToPipelineID != "quente" {
		t.Fatalf("unexpected pipelines: %q -> %q", stored.FromPipelineID, stored.ToPipelineID)
	}
	if stored.MovedAtSeconds != movedAt.Unix() {
		t.Fatalf("unexpected timestamp: %d", stored.MovedAtSeconds)
	}
}
