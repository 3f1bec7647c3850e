package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxSnippetLength = 500

// Error is a classified failure. It carries the operation that failed
// and, where one exists, the status code and a snippet of the response
// so that an operator can diagnose the fault without re-running the job.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Snippet    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Label())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Snippet != "" {
		fmt.Fprintf(&b, " [body: %s]", e.Snippet)
	}

	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error with the kind provided.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error under the kind provided.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromResponse classifies a non-successful HTTP exchange.
func FromResponse(op string, statusCode int, body []byte) *Error {
	text := string(body)
	return &Error{
		Kind:       Classify(Signal{StatusCode: statusCode, Body: text}),
		Op:         op,
		StatusCode: statusCode,
		Snippet:    Snippet(text),
	}
}

// FromPage classifies the visible text of an automation page.
func FromPage(op string, pageText string) *Error {
	return &Error{
		Kind:    Classify(Signal{PageText: pageText}),
		Op:      op,
		Snippet: Snippet(pageText),
	}
}

// FromTransport classifies an error returned while performing a request,
// before any response was received.
func FromTransport(op string, err error) *Error {
	return &Error{Kind: Classify(Signal{Err: err}), Op: op, Err: err}
}

// KindOf extracts the failure kind from the error provided. Errors that
// were never classified are reported as Unknown, and a nil error as None.
func KindOf(err error) Kind {
	if err == nil {
		return None
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	if errors.Is(err, context.Canceled) {
		return Cancelled
	}

	return Unknown
}

// Snippet trims and truncates the text provided so that it can be attached
// to an error or log line.
func Snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxSnippetLength {
		cut := maxSnippetLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut] + "..."
	}

	return text
}
