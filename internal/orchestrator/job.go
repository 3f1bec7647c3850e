package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/transport"
)

var validate = validator.New()

// UploadJob is a single request to upload and publish a video. A job is
// immutable once submitted.
type UploadJob struct {
	ID             uuid.UUID      `json:"id"`
	SourceFilePath string         `json:"source_file_path" validate:"required"`
	Title          string         `json:"title" validate:"required"`
	Description    string         `json:"description"`
	Visibility     string         `json:"visibility" validate:"oneof=public private password unlisted"`
	Transport      transport.Kind `json:"transport" validate:"oneof=api automation"`
	Account        string         `json:"account"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// Validate ensures the job is well formed.
func (job UploadJob) Validate() error {
	if err := validate.Struct(job); err != nil {
		return fmt.Errorf("upload job is invalid: %w", err)
	}

	return nil
}

// TitleFromPath derives a human readable post title from a video file name,
// e.g. "/videos/my_holiday-clip.mp4" becomes "my holiday clip".
func TitleFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

type Stage int

const (
	Queued Stage = iota
	Uploading
	Processing
	Thumbnail
	Publishing
	Verifying
	Finished
)

var stageLabels = []string{"queued", "upload", "processing", "thumbnail", "publish", "verify", "finished"}

func (s Stage) String() string {
	switch s {
	case Queued:
		return fmt.Sprintf("QUEUED[%d]", s)
	case Uploading:
		return fmt.Sprintf("UPLOADING[%d]", s)
	case Processing:
		return fmt.Sprintf("PROCESSING[%d]", s)
	case Thumbnail:
		return fmt.Sprintf("THUMBNAIL[%d]", s)
	case Publishing:
		return fmt.Sprintf("PUBLISHING[%d]", s)
	case Verifying:
		return fmt.Sprintf("VERIFYING[%d]", s)
	case Finished:
		return fmt.Sprintf("FINISHED[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}

func (s Stage) Label() string {
	if s < Queued || int(s) >= len(stageLabels) {
		return "unknown"
	}

	return stageLabels[s]
}
