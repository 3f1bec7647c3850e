package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var log = logger.Get("Transport")

type (
	// Kind selects which upload strategy is used for a job.
	Kind string

	// Request describes the asset to upload. Transports never retain a
	// request beyond the call it was passed to.
	Request struct {
		JobID       string
		SourcePath  string
		Title       string
		Description string
		Visibility  string
	}

	// Result is the outcome of a successful (or soft-failed) upload.
	// BackgroundProcessing indicates that no completion signal was observed
	// within the bound, but the provider may still finish the upload
	// out-of-band. Ambiguous indicates that the signals observed could not
	// distinguish an upload starting from an upload completing.
	Result struct {
		ProviderVideoID      string
		Handle               string
		BackgroundProcessing bool
		Ambiguous            bool
	}

	// Transport moves a video asset to the hosting provider and can report
	// on its processing afterwards. Close must be called exactly once when the
	// job is finished with the transport; healthy=false indicates that any
	// underlying session observed a fatal error and must not be reused.
	Transport interface {
		Kind() Kind
		Upload(context.Context, Request) (*Result, error)
		Status(ctx context.Context, videoID string) (*provider.Status, error)
		Metadata(ctx context.Context, videoID string) (*provider.Metadata, error)
		Close(healthy bool) error
	}
)

const (
	API        Kind = "api"
	Automation Kind = "automation"
)

// ParseKind validates the transport kind provided. An empty kind
// selects the API transport.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", API:
		return API, nil
	case Automation:
		return Automation, nil
	}

	return "", fmt.Errorf("unknown transport kind '%s'", s)
}

func (k Kind) String() string { return string(k) }
