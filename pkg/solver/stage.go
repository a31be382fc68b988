package solver

// Stage is a state of the solve state machine:
//
//	Received -> Interpreted -> Bound -> Computed -> Verified -> Scored -> Answered
//
// Any stage may leave for Refused or Errored. Terminal stages never move.
type Stage string

const (
	StageReceived    Stage = "received"
	StageInterpreted Stage = "interpreted"
	StageBound       Stage = "bound"
	StageComputed    Stage = "computed"
	StageVerified    Stage = "verified"
	StageScored      Stage = "scored"
	StageAnswered    Stage = "answered"
	StageRefused     Stage = "refused"
	StageErrored     Stage = "errored"
)

var forward = map[Stage]Stage{
	StageReceived:    StageInterpreted,
	StageInterpreted: StageBound,
	StageBound:       StageComputed,
	StageComputed:    StageVerified,
	StageVerified:    StageScored,
	StageScored:      StageAnswered,
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageAnswered || s == StageRefused || s == StageErrored
}

// CanMove reports whether from -> to is a legal transition.
func CanMove(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageRefused || to == StageErrored {
		return true
	}
	return forward[from] == to
}
