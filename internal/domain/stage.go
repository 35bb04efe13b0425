package domain

// Stage is one step of the Unfolding.
type Stage string

const (
	StageInvoking   Stage = "invoking"
	StageAttuning   Stage = "attuning"
	StageBinding    Stage = "binding"
	StageWeaving    Stage = "weaving"
	StageInscribing Stage = "inscribing"
	StageDelivering Stage = "delivering"
)

// StageOrder is the fixed, total order of the Unfolding.
var StageOrder = []Stage{
	StageInvoking,
	StageAttuning,
	StageBinding,
	StageWeaving,
	StageInscribing,
	StageDelivering,
}

// InitialStage is where every new session starts.
func InitialStage() Stage { return StageOrder[0] }

// FinalStage is the terminal stage; it has no successor.
func FinalStage() Stage { return StageOrder[len(StageOrder)-1] }

// StageIndex returns the ordinal position of s, or -1 if s is unknown.
func StageIndex(s Stage) int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValidStage reports whether v names a stage.
func IsValidStage(v string) bool {
	return StageIndex(Stage(v)) >= 0
}

// NextStage returns the successor of current. The bool is false for the
// final stage and for unknown stages.
func NextStage(current Stage) (Stage, bool) {
	idx := StageIndex(current)
	if idx < 0 || idx >= len(StageOrder)-1 {
		return "", false
	}
	return StageOrder[idx+1], true
}

// Before reports whether a comes strictly before b. Unknown stages are
// never before anything.
func Before(a, b Stage) bool {
	ia, ib := StageIndex(a), StageIndex(b)
	return ia >= 0 && ib >= 0 && ia < ib
}

// IsFinal reports whether s is the terminal stage.
func (s Stage) IsFinal() bool { return s == FinalStage() }

// String implements fmt.Stringer.
func (s Stage) String() string { return string(s) }
