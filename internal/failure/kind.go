package failure

import (
	"fmt"
	"strings"
)

// Kind is the single failure taxonomy shared by every stage of a job.
type Kind int

const (
	None Kind = iota
	Auth
	Quota
	Network
	Timeout
	Integrity
	Cancelled
	Unknown
)

var kindLabels = []string{"", "auth", "quota", "network", "timeout", "integrity", "cancelled", "unknown"}

func (k Kind) String() string {
	switch k {
	case None:
		return fmt.Sprintf("NONE[%d]", k)
	case Auth:
		return fmt.Sprintf("AUTH[%d]", k)
	case Quota:
		return fmt.Sprintf("QUOTA[%d]", k)
	case Network:
		return fmt.Sprintf("NETWORK[%d]", k)
	case Timeout:
		return fmt.Sprintf("TIMEOUT[%d]", k)
	case Integrity:
		return fmt.Sprintf("INTEGRITY[%d]", k)
	case Cancelled:
		return fmt.Sprintf("CANCELLED[%d]", k)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", k)
	}
}

// Label returns the stable lowercase name used when a kind is
// serialised (for example in job outcomes).
func (k Kind) Label() string {
	if k < None || int(k) >= len(kindLabels) {
		return kindLabels[Unknown]
	}

	return kindLabels[k]
}

// Retryable reports whether a failure of this kind is expected to clear
// on its own, such that polling at the existing cadence is appropriate.
func (k Kind) Retryable() bool { return k == Network }

// Fatal reports whether a failure of this kind must stop the job immediately.
func (k Kind) Fatal() bool { return k == Auth || k == Quota || k == Cancelled }

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.Label()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	label := strings.ToLower(string(text))
	for i, l := range kindLabels {
		if l == label {
			*k = Kind(i)
			return nil
		}
	}

	return fmt.Errorf("unknown failure kind '%s'", text)
}
