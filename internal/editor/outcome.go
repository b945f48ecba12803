package editor

// OutcomeKind tags the result of an edit request.
type OutcomeKind int

const (
	Loaded OutcomeKind = iota + 1
	Saved
	ValidationFailed
	SaveFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case Loaded:
		return "loaded"
	case Saved:
		return "saved"
	case ValidationFailed:
		return "validation_failed"
	case SaveFailed:
		return "save_failed"
	default:
		return "unknown"
	}
}

// Failed reports whether the outcome is one of the form-level failures the
// caller renders back to the operator.
func (k OutcomeKind) Failed() bool {
	return k == ValidationFailed || k == SaveFailed
}

// GenericSaveMessage is shown when a save fails for a reason the operator
// should not see verbatim.
const GenericSaveMessage = "Could not save the file"

// Outcome is the result of one edit request. Content is always the text
// currently known: the submission on failure, the file contents otherwise.
type Outcome struct {
	Kind    OutcomeKind
	Content string
	Message string
}
