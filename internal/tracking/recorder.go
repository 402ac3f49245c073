package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/funilcrm/backend/internal/board"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opRecorderNew = "tracking.recorder.new"
	opRecordMove  = "tracking.recorder.record_move"
)

// ServiceError wraps a failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// LeadMovement is one audit row per completed pipeline transition. Rows are
// append-only; the board engine never reads them back.
type LeadMovement struct {
	MovementID       uint   `gorm:"column:movement_id;primaryKey;autoIncrement"`
	LeadID           string `gorm:"column:lead_id;size:190;not null;index"`
	SubOriginID      string `gorm:"column:sub_origin_id;size:190;not null;index"`
	FromPipelineID   string `gorm:"column:from_pipeline_id;size:190;not null;default:''"`
	ToPipelineID     string `gorm:"column:to_pipeline_id;size:190;not null;default:''"`
	FromPipelineName string `gorm:"column:from_pipeline_name;size:320;not null;default:''"`
	ToPipelineName   string `gorm:"column:to_pipeline_name;size:320;not null;default:''"`
	MovedAtSeconds   int64  `gorm:"column:moved_at_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (LeadMovement) TableName() string {
	return "lead_movements"
}

// RecorderConfig bundles dependencies for constructing a Recorder.
type RecorderConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Recorder persists pipeline transitions for later funnel analytics.
type Recorder struct {
	database *gorm.DB
	logger   *zap.Logger
	clock    func() time.Time
}

// NewRecorder validates configuration and constructs a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRecorderNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{database: cfg.Database, logger: logger, clock: clock}, nil
}

// RecordMove appends one audit row for a completed move.
func (r *Recorder) RecordMove(ctx context.Context, event board.MoveEvent) error {
	movement := LeadMovement{
		LeadID:           event.Lead.LeadID,
		SubOriginID:      event.SubOriginID,
		FromPipelineID:   event.FromPipelineID,
		ToPipelineID:     event.ToPipelineID,
		FromPipelineName: event.FromPipelineName,
		ToPipelineName:   event.ToPipelineName,
		MovedAtSeconds:   r.clock().UTC().Unix(),
	}
	if err := r.database.WithContext(ctx).Create(&movement).Error; err != nil {
		r.logger.Error("lead movement insert failed",
			zap.String("lead_id", event.Lead.LeadID),
			zap.String("to_pipeline_id", event.ToPipelineID),
			zap.Error(err))
		return newServiceError(opRecordMove, "insert_failed", err)
	}
	r.logger.Info("lead movement recorded",
		zap.String("lead_id", event.Lead.LeadID),
		zap.String("from_pipeline_id", event.FromPipelineID),
		zap.String("to_pipeline_id", event.ToPipelineID))
	return nil
}
