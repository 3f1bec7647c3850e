package ingest

import "fmt"

type (
	TroubleType int
	Trouble     struct {
		error
		tType TroubleType
	}

	ResolutionType int
)

const (
	SUBMIT_FAILURE TroubleType = iota
	SOURCE_FAILURE
	GENERIC_FAILURE
)

const (
	RETRY ResolutionType = iota
	ABORT
)

func (t TroubleType) String() string {
	switch t {
	case SUBMIT_FAILURE:
		return fmt.Sprintf("SUBMIT_FAILURE[%d]", t)
	case SOURCE_FAILURE:
		return fmt.Sprintf("SOURCE_FAILURE[%d]", t)
	case GENERIC_FAILURE:
		return fmt.Sprintf("GENERIC_FAILURE[%d]", t)
	}

	return fmt.Sprintf("UNKNOWN[%d]", t)
}

func (r ResolutionType) String() string {
	switch r {
	case RETRY:
		return fmt.Sprintf("RETRY[%d]", r)
	case ABORT:
		return fmt.Sprintf("ABORT[%d]", r)
	}

	return fmt.Sprintf("UNKNOWN[%d]", r)
}

func (trouble Trouble) Type() TroubleType { return trouble.tType }

func (trouble Trouble) Unwrap() error { return trouble.error }

func newTrouble(tType TroubleType, err error) Trouble {
	return Trouble{error: err, tType: tType}
}
