package workflow

import (
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
)

// Stage is a position of an auction item in the processing pipeline.
type Stage string

const (
	StageResearch    Stage = "research"
	StageWaiting     Stage = "waiting"
	StageWinning     Stage = "winning"
	StagePhotography Stage = "photography"
	StageResearch2   Stage = "research2"
	StageFinalized   Stage = "finalized"
)

// Role is the team role an item is assigned to while it sits in a stage.
type Role string

const (
	RoleResearcher   Role = "researcher"
	RolePhotographer Role = "photographer"
	RoleResearcher2  Role = "researcher2"
	RoleAdmin        Role = "admin"
)

// Rule is one row of the transition table.
// CostSetting is empty for transitions that do not charge credits.
type Rule struct {
	From        Stage
	To          Stage
	Assignee    Role
	CostSetting ledger.SettingName
}

var transitionTable = []Rule{
	{From: StageResearch, To: StageWaiting, Assignee: RoleResearcher},
	{From: StageWaiting, To: StageWinning, Assignee: RoleAdmin},
	{From: StageWinning, To: StagePhotography, Assignee: RolePhotographer},
	{From: StagePhotography, To: StageResearch2, Assignee: RoleResearcher2, CostSetting: ledger.SettingResearch2Cost},
	{From: StageResearch2, To: StageFinalized, Assignee: RoleAdmin},
}

// ParseStage validates a stage name.
func ParseStage(raw string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(raw)))
	switch stage {
	case StageResearch, StageWaiting, StageWinning, StagePhotography, StageResearch2, StageFinalized:
		return stage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, raw)
	}
}

func (stage Stage) String() string {
	return string(stage)
}

// Rules returns a copy of the transition table in pipeline order.
func Rules() []Rule {
	return append([]Rule(nil), transitionTable...)
}

// NextRule resolves the transition out of from. An empty target means the next stage in the pipeline;
// any other target must equal it.
func NextRule(from Stage, target Stage) (Rule, error) {
	for _, rule := range transitionTable {
		if rule.From != from {
			continue
		}
		if target != "" && target != rule.To {
			return Rule{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
		}
		return rule, nil
	}
	return Rule{}, fmt.Errorf("%w: no transition out of %s", ErrInvalidTransition, from)
}
