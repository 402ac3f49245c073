package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingLeadName   = errors.New("lead name is required")
	errEmptyPatch        = errors.New("patch must set at least one field")
	noOpLogger           = zap.NewNop()
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

const (
	opServiceNew      = "leads.service.new"
	opListLeads       = "leads.list"
	opGetLead         = "leads.get"
	opCreateLead      = "leads.create"
	opUpdateLead      = "leads.update"
	opApplyMoves      = "leads.apply_moves"
	opListPipelines   = "leads.pipelines"
	opListAutomations = "leads.automation_rules"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for newly created records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles dependencies for the lead persistence service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns all reads and writes against the lead tables.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// ListLeads returns the leads matching the filter. Results are ordered by
// ordem ascending with created_at descending as the stable tie-break, the
// base order the board store refines in memory.
func (s *Service) ListLeads(ctx context.Context, filter LeadFilter) ([]Lead, error) {
	query := s.db.WithContext(ctx).Model(&Lead{})
	if filter.SubOriginID != "" {
		query = query.Where("sub_origin_id = ?", filter.SubOriginID)
	}
	if filter.PipelineID != "" {
		query = query.Where("pipeline_id = ?", filter.PipelineID)
	}

	var results []Lead
	if err := query.Order("ordem ASC, created_at_s DESC").Find(&results).Error; err != nil {
		s.logError(opListLeads, "query_failed", err, zap.String("sub_origin_id", filter.SubOriginID))
		return nil, newServiceError(opListLeads, "query_failed", err)
	}
	return results, nil
}

// GetLead returns one lead by identifier.
func (s *Service) GetLead(ctx context.Context, id string) (Lead, error) {
	leadID, err := NewLeadID(id)
	if err != nil {
		return Lead{}, newServiceError(opGetLead, "invalid_lead_id", err)
	}

	var lead Lead
	err = s.db.WithContext(ctx).
		Where("lead_id = ?", leadID.String()).
		Take(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Lead{}, newServiceError(opGetLead, "lead_not_found", err)
	}
	if err != nil {
		s.logError(opGetLead, "query_failed", err, zap.String("lead_id", leadID.String()))
		return Lead{}, newServiceError(opGetLead, "query_failed", err)
	}
	return lead, nil
}

// CreateLeadInput carries the caller-supplied fields of a new lead.
type CreateLeadInput struct {
	SubOriginID string
	PipelineID  string
	Name        string
	Phone       string
	Email       string
}

// CreateLead inserts a new lead at ordem 0 of its pipeline.
func (s *Service) CreateLead(ctx context.Context, input CreateLeadInput) (Lead, error) {
	subOrigin, err := NewSubOriginID(input.SubOriginID)
	if err != nil {
		s.logError(opCreateLead, "invalid_sub_origin", err)
		return Lead{}, newServiceError(opCreateLead, "invalid_sub_origin", err)
	}
	if strings.TrimSpace(input.Name) == "" {
		s.logError(opCreateLead, "missing_name", errMissingLeadName)
		return Lead{}, newServiceError(opCreateLead, "missing_name", errMissingLeadName)
	}

	leadID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateLead, "id_generation_failed", err)
		return Lead{}, newServiceError(opCreateLead, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	lead := Lead{
		LeadID:           leadID,
		SubOriginID:      subOrigin.String(),
		PipelineID:       strings.TrimSpace(input.PipelineID),
		Name:             strings.TrimSpace(input.Name),
		Phone:            strings.TrimSpace(input.Phone),
		Email:            strings.TrimSpace(input.Email),
		Ordem:            0,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&lead).Error; err != nil {
		s.logError(opCreateLead, "insert_failed", err, zap.String("lead_id", leadID))
		return Lead{}, newServiceError(opCreateLead, "insert_failed", err)
	}
	return lead, nil
}

// UpdateLead applies an independent, idempotent per-row patch to one lead.
func (s *Service) UpdateLead(ctx context.Context, id string, patch LeadPatch) error {
	leadID, err := NewLeadID(id)
	if err != nil {
		s.logError(opUpdateLead, "invalid_lead_id", err)
		return newServiceError(opUpdateLead, "invalid_lead_id", err)
	}

	updates := patchColumns(patch)
	if len(updates) == 0 {
		s.logError(opUpdateLead, "empty_patch", errEmptyPatch, zap.String("lead_id", leadID.String()))
		return newServiceError(opUpdateLead, "empty_patch", errEmptyPatch)
	}
	updates["updated_at_s"] = s.clock().UTC().Unix()

	result := s.db.WithContext(ctx).Model(&Lead{}).
		Where("lead_id = ?", leadID.String()).
		Updates(updates)
	if result.Error != nil {
		s.logError(opUpdateLead, "update_failed", result.Error, zap.String("lead_id", leadID.String()))
		return newServiceError(opUpdateLead, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		s.logError(opUpdateLead, "lead_not_found", gorm.ErrRecordNotFound, zap.String("lead_id", leadID.String()))
		return newServiceError(opUpdateLead, "lead_not_found", gorm.ErrRecordNotFound)
	}
	return nil
}

// ApplyMoves persists a board move batch inside one transaction, preserving
// the batch order through the single atomic commit.
func (s *Service) ApplyMoves(ctx context.Context, updates []LeadUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	appliedAt := s.clock().UTC().Unix()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, update := range updates {
			fields := patchColumns(update.Patch())
			fields["updated_at_s"] = appliedAt
			result := tx.Model(&Lead{}).
				Where("lead_id = ?", update.LeadID).
				Updates(fields)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("lead %s: %w", update.LeadID, gorm.ErrRecordNotFound)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opApplyMoves, "transaction_failed", txErr, zap.Int("updates", len(updates)))
		return newServiceError(opApplyMoves, "transaction_failed", txErr)
	}
	return nil
}

// patchColumns maps the set fields of a patch onto their table columns.
func patchColumns(patch LeadPatch) map[string]interface{} {
	columns := map[string]interface{}{}
	if patch.Ordem != nil {
		columns["ordem"] = *patch.Ordem
	}
	if patch.PipelineID != nil {
		columns["pipeline_id"] = *patch.PipelineID
	}
	if patch.SubOriginID != nil {
		columns["sub_origin_id"] = *patch.SubOriginID
	}
	return columns
}

// ListPipelines returns the pipelines of a sub-origin in display order.
func (s *Service) ListPipelines(ctx context.Context, subOriginID string) ([]Pipeline, error) {
	query := s.db.WithContext(ctx).Model(&Pipeline{})
	if subOriginID != "" {
		query = query.Where("sub_origin_id = ?", subOriginID)
	}

	var results []Pipeline
	if err := query.Order("ordem ASC").Find(&results).Error; err != nil {
		s.logError(opListPipelines, "query_failed", err, zap.String("sub_origin_id", subOriginID))
		return nil, newServiceError(opListPipelines, "query_failed", err)
	}
	return results, nil
}

// ListActiveAutomationRules returns the automation rules with is_active set.
func (s *Service) ListActiveAutomationRules(ctx context.Context) ([]AutomationRule, error) {
	var results []AutomationRule
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&results).Error; err != nil {
		s.logError(opListAutomations, "query_failed", err)
		return nil, newServiceError(opListAutomations, "query_failed", err)
	}
	return results, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("leads service error", attrs...)
}
