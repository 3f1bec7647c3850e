package processing

import (
	"fmt"
	"strings"
	"time"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
)

type State int

const (
	Uploading State = iota
	Transcoding
	Ready
	TimedOut
	QuotaExceeded
	Failed
)

var stateLabels = []string{"uploading", "transcoding", "ready", "timed_out", "quota_exceeded", "failed"}

func (s State) String() string {
	if s < Uploading || s > Failed {
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}

	return fmt.Sprintf("%s[%d]", strings.ToUpper(stateLabels[s]), s)
}

// Label returns the lowercase name of the state, as used in outcomes.
func (s State) Label() string {
	if s < Uploading || s > Failed {
		return "unknown"
	}

	return stateLabels[s]
}

// Terminal reports whether no further transition can occur from this state.
func (s State) Terminal() bool { return s >= Ready }

func (s State) MarshalText() ([]byte, error) { return []byte(s.Label()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for i, label := range stateLabels {
		if label == string(text) {
			*s = State(i)
			return nil
		}
	}

	return fmt.Errorf("unknown processing state '%s'", text)
}

// Observation is everything learned from a single status poll.
type Observation struct {
	Status  *provider.Status
	Err     error
	Elapsed time.Duration
	MaxWait time.Duration
}

// Next computes the state following current given one poll observation.
// It is a pure function of its inputs:
//   - terminal states never change
//   - quota evidence, in an error or in the status itself, is QuotaExceeded
//   - an authentication failure or a provider-reported error is Failed
//   - availability with transcoding complete is Ready
//   - any other poll error is transient, so the state is kept
//   - otherwise the elapsed time is checked against the ceiling before
//     settling on Uploading or Transcoding from the reported status
func Next(current State, obs Observation) State {
	if current.Terminal() {
		return current
	}

	if obs.Err != nil {
		switch failure.KindOf(obs.Err) {
		case failure.Quota:
			return QuotaExceeded
		case failure.Auth:
			return Failed
		}

		if obs.Elapsed >= obs.MaxWait {
			return TimedOut
		}

		return current
	}

	status := obs.Status
	if status == nil {
		if obs.Elapsed >= obs.MaxWait {
			return TimedOut
		}

		return current
	}

	switch {
	case failure.IsQuotaText(status.Text()):
		return QuotaExceeded
	case status.Available():
		return Ready
	case status.Errored():
		return Failed
	case obs.Elapsed >= obs.MaxWait:
		return TimedOut
	case status.Uploading():
		return Uploading
	}

	return Transcoding
}
