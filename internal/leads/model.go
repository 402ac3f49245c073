package leads

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidLeadID indicates that a lead identifier is empty or exceeds storage bounds.
	ErrInvalidLeadID = errors.New("leads: invalid lead id")
	// ErrInvalidSubOriginID indicates that a sub-origin identifier is empty or exceeds storage bounds.
	ErrInvalidSubOriginID = errors.New("leads: invalid sub-origin id")
)

// LeadID represents a validated lead identifier.
type LeadID string

// NewLeadID validates raw input and returns a LeadID.
func NewLeadID(rawInput string) (LeadID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLeadID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidLeadID, maxIdentifierLength)
	}
	return LeadID(trimmed), nil
}

// String returns the underlying string identifier.
func (id LeadID) String() string {
	return string(id)
}

// SubOriginID represents a validated sub-origin (partition) identifier.
type SubOriginID string

// NewSubOriginID validates raw input and returns a SubOriginID.
func NewSubOriginID(rawInput string) (SubOriginID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSubOriginID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSubOriginID, maxIdentifierLength)
	}
	return SubOriginID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SubOriginID) String() string {
	return string(id)
}

// Lead models a prospective customer inside a sub-origin's pipeline board.
// An empty PipelineID means the lead is not assigned to any pipeline column.
type Lead struct {
	LeadID           string `gorm:"column:lead_id;primaryKey;size:190;not null"`
	SubOriginID      string `gorm:"column:sub_origin_id;size:190;not null;index:idx_leads_origin_pipeline,priority:1"`
	PipelineID       string `gorm:"column:pipeline_id;size:190;not null;default:'';index:idx_leads_origin_pipeline,priority:2"`
	Name             string `gorm:"column:name;size:320;not null"`
	Phone            string `gorm:"column:phone;size:64;not null;default:''"`
	Email            string `gorm:"column:email;size:320;not null;default:''"`
	Ordem            int    `gorm:"column:ordem;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Lead) TableName() string {
	return "leads"
}

// Pipeline is a named column partitioning leads within a sub-origin.
// Pipelines are reference data for the board engine and never mutated by it.
type Pipeline struct {
	PipelineID  string `gorm:"column:pipeline_id;primaryKey;size:190;not null"`
	SubOriginID string `gorm:"column:sub_origin_id;size:190;not null;index"`
	Name        string `gorm:"column:name;size:320;not null"`
	Color       string `gorm:"column:color;size:32;not null;default:''"`
	Ordem       int    `gorm:"column:ordem;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Pipeline) TableName() string {
	return "pipelines"
}

// AutomationRule redirects leads dropped into a source pipeline towards a
// target sub-origin and pipeline. A rule only fires when it is active and
// both target fields are populated.
type AutomationRule struct {
	RuleID            string `gorm:"column:rule_id;primaryKey;size:190;not null"`
	SourcePipelineID  string `gorm:"column:source_pipeline_id;size:190;not null;index"`
	TargetSubOriginID string `gorm:"column:target_sub_origin_id;size:190;not null;default:''"`
	TargetPipelineID  string `gorm:"column:target_pipeline_id;size:190;not null;default:''"`
	IsActive          bool   `gorm:"column:is_active;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (AutomationRule) TableName() string {
	return "automation_rules"
}

// LeadFilter narrows lead and pipeline queries to a partition of the board.
type LeadFilter struct {
	SubOriginID string
	PipelineID  string
}

// LeadPatch carries the mutable sort and ownership fields of a lead.
// Nil fields are left untouched.
type LeadPatch struct {
	Ordem       *int
	PipelineID  *string
	SubOriginID *string
}

// LeadUpdate is one row of a board move batch: the lead's new ordem plus
// optional pipeline and sub-origin reassignment.
type LeadUpdate struct {
	LeadID      string
	Ordem       int
	PipelineID  *string
	SubOriginID *string
}

// Patch converts the update into an equivalent field patch.
func (u LeadUpdate) Patch() LeadPatch {
	ordem := u.Ordem
	return LeadPatch{
		Ordem:       &ordem,
		PipelineID:  u.PipelineID,
		SubOriginID: u.SubOriginID,
	}
}
