// Package stages holds the static CBT stage catalog: descriptions used in
// prompts, per-stage responder guidance and the canned replies used when
// every model tier has failed.
package stages

import (
	"fmt"
	"strings"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

// Info describes one stage of the session.
type Info struct {
	Stage       domain.Stage
	Name        string
	Description string
	Guidance    string
	// Fallback is the canned reply used when no model produced one.
	Fallback string
}

var catalog = map[domain.Stage]Info{
	domain.StageWarmup: {
		Stage:       domain.StageWarmup,
		Name:        "Warmup",
		Description: "Warmup - Build rapport and understand current emotional state. Focus on creating a safe space and gathering initial feelings.",
		Guidance: `Stage 1 (Warmup):
- Establish rapport and psychological safety
- Validate feelings without rushing to solutions
- Use reflective listening ("It sounds like...")
- Ask ONE gentle exploration question
- Normalize their emotional experience
`,
		Fallback: "I hear you. Can you tell me a bit more about what's on your mind right now?",
	},
	domain.StageExploration: {
		Stage:       domain.StageExploration,
		Name:        "Exploration",
		Description: "Exploration - Deep dive into specific issues, triggers, and thoughts. Identify patterns and core beliefs.",
		Guidance: `Stage 2 (Exploration):
- Identify specific situations, thoughts, and feelings
- Look for patterns and core beliefs
- Use ONE Socratic question to help them discover insights
- Help connect thoughts → feelings → behaviors
- Focus on one specific aspect at a time
`,
		Fallback: "That sounds challenging. What thoughts go through your mind when this happens?",
	},
	domain.StageReframe: {
		Stage:       domain.StageReframe,
		Name:        "Reframe",
		Description: "Reframe - Help identify cognitive distortions and provide alternative perspectives. Introduce coping strategies and tools.",
		Guidance: `Stage 3 (Reframe):
- Identify ONE potential cognitive distortion gently
- Present alternative perspectives as possibilities
- Teach ONE practical CBT technique relevant to their situation
- Suggest one small, achievable thought exercise and do it live in the chat
- Emphasize their agency in choosing new perspectives
`,
		Fallback: "I understand. Sometimes our thoughts can feel very real, even when they might not be entirely accurate. What if we looked at this from a different angle?",
	},
	domain.StageSummary: {
		Stage:       domain.StageSummary,
		Name:        "Summary",
		Description: "Summary - Synthesize insights, celebrate progress, and provide actionable takeaways for continued practice.",
		Guidance: `Stage 4 (Summary):
- Highlight ONE key insight and progress made
- Connect their experience to ONE relevant CBT concept
- Provide ONE specific, personalized technique to practice
- Validate their efforts and courage
- End with hope and ONE practical next step
- Always end with a gentle, open invitation for reflection, such as:
  "As we wrap up, what's one thing you want to remember from today, or how are you feeling about your progress?"
`,
		Fallback: "You've shared some really important insights today. What feels most helpful to remember going forward?",
	},
	domain.StageComplete: {
		Stage:       domain.StageComplete,
		Name:        "Complete",
		Description: "Complete - Session complete. Provide encouragement and suggestions for future practice.",
		Guidance: `Stage 5 (Complete):
- Express appreciation for their participation
- Highlight their strengths and insights
- Provide encouragement for continued practice
- End on a warm, supportive note
- NO questions in this stage
`,
		Fallback: "Thank you for sharing so openly today. You've shown real courage in exploring these feelings.",
	},
}

// Lookup returns the catalog entry for s, or ErrInvalidStage.
func Lookup(s domain.Stage) (Info, error) {
	info, ok := catalog[s]
	if !ok {
		return Info{}, fmt.Errorf("%w: %d", domain.ErrInvalidStage, int(s))
	}
	return info, nil
}

// All returns the catalog in stage order.
func All() []Info {
	out := make([]Info, 0, len(catalog))
	for s := domain.FirstStage; s <= domain.FinalStage; s++ {
		out = append(out, catalog[s])
	}
	return out
}

// Describe returns the short description of s used in prompt headers.
func Describe(s domain.Stage) (string, error) {
	info, err := Lookup(s)
	if err != nil {
		return "", err
	}
	return info.Description, nil
}

// Guidance returns the responder guidance block for s.
func Guidance(s domain.Stage) (string, error) {
	info, err := Lookup(s)
	if err != nil {
		return "", err
	}
	return info.Guidance, nil
}

// NextDescription describes the stage after s, or "None" at the end.
func NextDescription(s domain.Stage) string {
	if info, ok := catalog[s+1]; ok {
		return info.Description
	}
	return "None"
}

// FormatContext renders the transcript block shared by planner and responder:
// a stage header, every prior message as "ROLE: content", then the new
// user message.
func FormatContext(stage domain.Stage, messages []domain.TurnMessage, userMessage string) (string, error) {
	desc, err := Describe(stage)
	if err != nil {
		return "", err
	}

	history := make([]string, 0, len(messages))
	for _, m := range messages {
		history = append(history, strings.ToUpper(m.Role)+": "+m.Content)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CURRENT STAGE: %d - %s\n\n", int(stage), desc)
	b.WriteString("CONVERSATION HISTORY:\n")
	b.WriteString(strings.Join(history, "\n\n"))
	b.WriteString("\n\nNEW USER MESSAGE: ")
	b.WriteString(userMessage)
	b.WriteString("\n")
	return b.String(), nil
}
