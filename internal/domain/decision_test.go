package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

func stagePtr(s domain.Stage) *domain.Stage { return &s }

func TestResolveStage(t *testing.T) {
	tests := []struct {
		name     string
		current  domain.Stage
		decision domain.PlannerDecision
		want     domain.Stage
	}{
		{"respond stays", 1, domain.PlannerDecision{Action: domain.ActionRespond}, 1},
		{"advance one step", 1, domain.PlannerDecision{Action: domain.ActionAdvanceStage, TargetStage: stagePtr(2)}, 2},
		{"advance clamped to one step", 2, domain.PlannerDecision{Action: domain.ActionAdvanceStage, TargetStage: stagePtr(4)}, 3},
		{"advance far clamped", 1, domain.PlannerDecision{Action: domain.ActionAdvanceStage, TargetStage: stagePtr(9)}, 2},
		{"advance without target moves one step", 3, domain.PlannerDecision{Action: domain.ActionAdvanceStage}, 4},
		{"advance backwards ignored", 3, domain.PlannerDecision{Action: domain.ActionAdvanceStage, TargetStage: stagePtr(1)}, 3},
		{"advance at terminal stays", 5, domain.PlannerDecision{Action: domain.ActionAdvanceStage, TargetStage: stagePtr(6)}, 5},
		{"complete from summary", 4, domain.PlannerDecision{Action: domain.ActionCompleteSession}, 5},
		{"complete from warmup jumps", 1, domain.PlannerDecision{Action: domain.ActionCompleteSession}, 5},
		{"redirect stays", 2, domain.PlannerDecision{Action: domain.ActionRedirect}, 2},
		{"meta analyze stays", 3, domain.PlannerDecision{Action: domain.ActionMetaAnalyze}, 3},
		{"respond at terminal", 5, domain.PlannerDecision{Action: domain.ActionRespond}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.decision.ResolveStage(tt.current))
		})
	}
}

func TestResolveStageNeverSkips(t *testing.T) {
	for current := domain.FirstStage; current < domain.FinalStage; current++ {
		for target := domain.Stage(-2); target <= 12; target++ {
			d := domain.PlannerDecision{Action: domain.ActionAdvanceStage, TargetStage: stagePtr(target)}
			got := d.ResolveStage(current)
			assert.GreaterOrEqual(t, got, current)
			assert.LessOrEqual(t, got, current+1)
		}
	}
}

func TestStageCodes(t *testing.T) {
	for s := domain.FirstStage; s <= domain.FinalStage; s++ {
		got, err := domain.ParseStageCode(s.Code())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := domain.ParseStageCode("S9")
	assert.ErrorIs(t, err, domain.ErrInvalidStage)

	_, err = domain.ParseStageCode("warmup")
	assert.ErrorIs(t, err, domain.ErrInvalidStage)

	assert.ErrorIs(t, domain.ValidateStage(0), domain.ErrInvalidStage)
	assert.NoError(t, domain.ValidateStage(domain.StageSummary))
}

func TestDecisionActionValid(t *testing.T) {
	assert.True(t, domain.ActionMetaAnalyze.Valid())
	assert.False(t, domain.DecisionAction("jump").Valid())
}
