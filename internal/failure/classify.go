package failure

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Signal is the raw evidence available when deciding why an operation failed.
// Any combination of fields may be populated.
type Signal struct {
	StatusCode int
	Body       string
	PageText   string
	Err        error
}

var (
	quotaPhrases = []string{
		"quota exceeded",
		"limit reached",
		"not enough storage",
		"upgrade to upload more",
		"storage limit",
		"storage quota",
		"out of storage",
	}

	// matches usage meters such as "1.2GB of 1GB"
	storageUsagePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*gb\s+of\s+(\d+(?:\.\d+)?)\s*gb`)

	// terms which, inside an error response body, indicate the provider
	// refused the request for storage reasons
	quotaBodyTerms = []string{"quota", "storage"}
)

// Classify inspects every piece of evidence in the signal and returns the
// single most specific failure kind. Quota evidence is preferred over all
// else as it is the only failure that requires rerouting to another
// account; authentication failures follow, then transient faults.
func Classify(sig Signal) Kind {
	text := strings.ToLower(sig.Body + "\n" + sig.PageText)
	if IsQuotaText(text) {
		return Quota
	}

	if sig.StatusCode >= 400 && containsAny(strings.ToLower(sig.Body), quotaBodyTerms) {
		return Quota
	}

	switch {
	case sig.StatusCode == 401 || sig.StatusCode == 403:
		return Auth
	case sig.Err != nil:
		if errors.Is(sig.Err, context.Canceled) {
			return Cancelled
		}

		return Network
	case sig.StatusCode == 408 || sig.StatusCode == 429 || sig.StatusCode >= 500:
		return Network
	case sig.StatusCode >= 400:
		return Unknown
	}

	return None
}

// IsQuotaText reports whether the text provided contains any known
// storage-exhaustion phrase, or a storage meter showing full usage.
// Matching is case-insensitive.
func IsQuotaText(text string) bool {
	text = strings.ToLower(text)
	if containsAny(text, quotaPhrases) {
		return true
	}

	for _, match := range storageUsagePattern.FindAllStringSubmatch(text, -1) {
		used, err1 := strconv.ParseFloat(match[1], 64)
		total, err2 := strconv.ParseFloat(match[2], 64)
		if err1 == nil && err2 == nil && total > 0 && used >= total {
			return true
		}
	}

	return false
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}

	return false
}
