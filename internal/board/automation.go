package board

import "github.com/funilcrm/backend/internal/leads"

// RuleTable indexes active automation rules by their source pipeline.
type RuleTable struct {
	bySource map[string]leads.AutomationRule
}

// NewRuleTable keeps only active rules; a later duplicate for the same
// source pipeline wins, matching last-write ordering of the rule table.
func NewRuleTable(rules []leads.AutomationRule) RuleTable {
	bySource := make(map[string]leads.AutomationRule, len(rules))
	for _, rule := range rules {
		if !rule.IsActive || rule.SourcePipelineID == "" {
			continue
		}
		bySource[rule.SourcePipelineID] = rule
	}
	return RuleTable{bySource: bySource}
}

// Target returns the transfer destination for a drop into the given
// pipeline. A rule missing either target field never fires, and the drop
// falls through to a plain cross-pipeline move. Automations are a single
// hop: the rule's own target pipeline is never matched again.
func (t RuleTable) Target(destPipelineID string) (subOriginID, pipelineID string, ok bool) {
	rule, found := t.bySource[destPipelineID]
	if !found {
		return "", "", false
	}
	if rule.TargetSubOriginID == "" || rule.TargetPipelineID == "" {
		return "", "", false
	}
	return rule.TargetSubOriginID, rule.TargetPipelineID, true
}
