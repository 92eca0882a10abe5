package stages_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/lotus-agent/internal/app/stages"
	"github.com/PabloGalante/lotus-agent/internal/domain"
)

func TestLookupCoversEveryStage(t *testing.T) {
	all := stages.All()
	require.Len(t, all, 5)

	for i, info := range all {
		assert.Equal(t, domain.Stage(i+1), info.Stage)
		assert.NotEmpty(t, info.Description)
		assert.NotEmpty(t, info.Guidance)
		assert.NotEmpty(t, info.Fallback)
	}
}

// Unknown stages are rejected instead of silently reusing stage 1 guidance.
func TestLookupRejectsOutOfRange(t *testing.T) {
	for _, s := range []domain.Stage{-1, 0, 6, 42} {
		_, err := stages.Lookup(s)
		assert.ErrorIs(t, err, domain.ErrInvalidStage, "stage %d", s)

		_, err = stages.Guidance(s)
		assert.ErrorIs(t, err, domain.ErrInvalidStage)

		_, err = stages.FormatContext(s, nil, "hi")
		assert.ErrorIs(t, err, domain.ErrInvalidStage)
	}
}

func TestFormatContextKeepsOrderAndAttribution(t *testing.T) {
	msgs := []domain.TurnMessage{
		{Role: "user", Content: "I can't sleep"},
		{Role: "assistant", Content: "That sounds exhausting."},
		{Role: "user", Content: "It's work"},
	}

	out, err := stages.FormatContext(domain.StageExploration, msgs, "My boss yelled at me")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "CURRENT STAGE: 2 - Exploration"))

	first := strings.Index(out, "USER: I can't sleep")
	second := strings.Index(out, "ASSISTANT: That sounds exhausting.")
	third := strings.Index(out, "USER: It's work")
	last := strings.Index(out, "NEW USER MESSAGE: My boss yelled at me")

	require.True(t, first >= 0 && second >= 0 && third >= 0 && last >= 0, out)
	assert.Less(t, first, second)
	assert.Less(t, second, third)
	assert.Less(t, third, last)
}

func TestStaticReplyPriority(t *testing.T) {
	for s := domain.FirstStage; s <= domain.FinalStage; s++ {
		info, err := stages.Lookup(s)
		require.NoError(t, err)

		assert.Equal(t, info.Fallback, stages.StaticReply(domain.ActionRespond, s, "x"))
		assert.Equal(t, info.Fallback, stages.StaticReply(domain.ActionAdvanceStage, s, "x"))
		assert.Equal(t, stages.MetaAnalyzeReply, stages.StaticReply(domain.ActionMetaAnalyze, s, "x"))
		assert.Equal(t, stages.RedirectReply("football"), stages.StaticReply(domain.ActionRedirect, s, "football"))
	}

	assert.Contains(t, stages.RedirectReply("football scores"), `"football scores"`)
}

func TestNextDescription(t *testing.T) {
	assert.Contains(t, stages.NextDescription(domain.StageWarmup), "Exploration")
	assert.Equal(t, "None", stages.NextDescription(domain.StageComplete))
}
