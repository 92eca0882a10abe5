package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SessionID string
type UserID string
type MessageID string

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// TherapyType tags the modality a session runs under.
type TherapyType string

const (
	TherapyCBT TherapyType = "cbt"
)

// Stage is a step of the CBT session state machine (1..5).
type Stage int

const (
	StageWarmup      Stage = 1
	StageExploration Stage = 2
	StageReframe     Stage = 3
	StageSummary     Stage = 4
	StageComplete    Stage = 5
)

const (
	FirstStage = StageWarmup
	FinalStage = StageComplete
)

// Valid reports whether s is one of the five known stages.
func (s Stage) Valid() bool {
	return s >= FirstStage && s <= FinalStage
}

// Terminal reports whether no further advancement is possible.
func (s Stage) Terminal() bool {
	return s == FinalStage
}

// Code returns the persisted representation ("S1".."S5").
func (s Stage) Code() string {
	return "S" + strconv.Itoa(int(s))
}

// ParseStageCode is the inverse of Stage.Code.
func ParseStageCode(code string) (Stage, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(code)), "S"))
	if err != nil {
		return 0, fmt.Errorf("%w: code %q", ErrInvalidStage, code)
	}
	s := Stage(n)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: code %q", ErrInvalidStage, code)
	}
	return s, nil
}

// ValidateStage returns ErrInvalidStage for anything outside 1..5.
func ValidateStage(s Stage) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStage, int(s))
	}
	return nil
}

type Timestamp = time.Time
