package model

// Kind identifies one analysis the assistant can run against a session.
type Kind string

const (
	KindGrammarCheck      Kind = "grammar_check"
	KindPolish            Kind = "polish"
	KindStructureAnalysis Kind = "structure_analysis"
	KindHealthScore       Kind = "health_score"
	KindMathValidation    Kind = "math_validation"
	KindLogicTree         Kind = "logic_tree"
	KindDebug             Kind = "debug"
	KindChat              Kind = "chat"
)

// AllKinds lists every kind in registration order.
var AllKinds = []Kind{
	KindGrammarCheck,
	KindPolish,
	KindStructureAnalysis,
	KindHealthScore,
	KindMathValidation,
	KindLogicTree,
	KindDebug,
	KindChat,
}

func (k Kind) String() string { return string(k) }

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Mode is the learning mode of a session.
type Mode string

const (
	ModeLiterature Mode = "literature"
	ModeScience    Mode = "science"
)

// DefaultMode is used when a session is created without a mode and when
// mode detection fails outright.
const DefaultMode = ModeLiterature

func (m Mode) Valid() bool {
	return m == ModeLiterature || m == ModeScience
}
