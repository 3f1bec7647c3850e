package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var (
	log = logger.Get("Thumbnail")

	ErrNoFrames = errors.New("no candidate frame could be decoded")
)

type (
	Config struct {
		Enabled           bool   `yaml:"enabled" env:"THUMBNAIL_ENABLED" env-default:"true"`
		OutputDir         string `yaml:"output_dir" env:"THUMBNAIL_OUTPUT_DIR"`
		Candidates        int    `yaml:"candidates" env:"THUMBNAIL_CANDIDATES" env-default:"10" validate:"gte=1"`
		JPEGQuality       int    `yaml:"jpeg_quality" env:"THUMBNAIL_JPEG_QUALITY" env-default:"90" validate:"gte=1,lte=100"`
		PenalizeExposure  bool   `yaml:"penalize_exposure" env:"THUMBNAIL_PENALIZE_EXPOSURE" env-default:"false"`
		FfprobeBinaryPath string `yaml:"ffprobe_path" env:"FFPROBE_PATH" env-default:"/usr/bin/ffprobe"`
	}

	// FrameSource opens videos for frame sampling.
	FrameSource interface {
		Open(path string) (Video, error)
	}

	// Video is an opened video from which individual frames can be decoded.
	Video interface {
		Duration() float64
		FrameCount() int
		FrameAt(Timestamp) (Frame, error)
		Close() error
	}

	// Frame is a single decoded frame. Sharpness returns the variance of the
	// Laplacian of the frame in grayscale, along with its mean brightness on
	// a 0-255 scale.
	Frame interface {
		Sharpness() (variance float64, brightness float64)
		WriteJPEG(path string, quality int) error
		Close() error
	}

	// Candidate is the score of a sampled frame.
	Candidate struct {
		Timestamp Timestamp
		Score     float64
	}

	Selection struct {
		Path       string
		Best       Candidate
		Candidates []Candidate
	}

	// Analyzer selects the sharpest of a set of evenly spaced frames and
	// writes it to disk as a JPEG.
	Analyzer struct {
		config Config
		source FrameSource
	}
)

func NewAnalyzer(config Config, source FrameSource) *Analyzer {
	if config.Candidates <= 0 {
		config.Candidates = DefaultCandidates
	}
	if config.JPEGQuality <= 0 || config.JPEGQuality > 100 {
		config.JPEGQuality = 90
	}

	return &Analyzer{config: config, source: source}
}

// OutputPathFor returns the thumbnail path used for a job.
func (analyzer *Analyzer) OutputPathFor(jobID string, videoPath string) string {
	dir := analyzer.config.OutputDir
	if dir == "" {
		dir = filepath.Dir(videoPath)
	}

	return filepath.Join(dir, fmt.Sprintf("%s-thumbnail.jpg", jobID))
}

// Extract scores each candidate frame of the video and writes the frame
// with the highest score to outputPath. Ties are resolved in favour of the
// earliest candidate. ErrNoFrames is returned if no candidate decodes.
func (analyzer *Analyzer) Extract(ctx context.Context, videoPath string, outputPath string) (*Selection, error) {
	video, err := analyzer.source.Open(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open video '%s' for frame analysis: %w", videoPath, err)
	}
	defer video.Close()

	timestamps := CandidateTimestamps(video.Duration(), video.FrameCount(), analyzer.config.Candidates)
	if len(timestamps) == 0 {
		return nil, fmt.Errorf("video '%s' has no usable duration: %w", videoPath, ErrNoFrames)
	}

	// Only the frame of the current best candidate is kept open.
	var best Frame
	defer func() {
		if best != nil {
			best.Close()
		}
	}()

	selection := &Selection{Path: outputPath, Best: Candidate{Score: -1}}
	for _, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := video.FrameAt(ts)
		if err != nil || frame == nil {
			log.Emit(logger.DEBUG, "Skipping undecodable frame at %.2fs of %s: %v\n", ts.Seconds, videoPath, err)
			continue
		}

		candidate := Candidate{Timestamp: ts, Score: analyzer.score(frame)}
		selection.Candidates = append(selection.Candidates, candidate)
		if candidate.Score <= selection.Best.Score {
			frame.Close()
			continue
		}

		if best != nil {
			best.Close()
		}
		best = frame
		selection.Best = candidate
	}

	if best == nil {
		return nil, ErrNoFrames
	}

	if err := writeJPEG(outputPath, best, analyzer.config.JPEGQuality); err != nil {
		return nil, err
	}

	log.Emit(logger.SUCCESS, "Selected frame at %.2fs (score %.1f) of %d candidates for %s\n",
		selection.Best.Timestamp.Seconds, selection.Best.Score, len(selection.Candidates), videoPath)
	return selection, nil
}

func (analyzer *Analyzer) score(frame Frame) float64 {
	variance, brightness := frame.Sharpness()
	if analyzer.config.PenalizeExposure {
		return ExposureAdjusted(variance, brightness)
	}

	return variance
}

// writeJPEG writes the frame next to path and renames it into place, so a
// partially written thumbnail is never observed.
func writeJPEG(path string, frame Frame, quality int) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".thumbnail-*.jpg")
	if err != nil {
		return fmt.Errorf("failed to create thumbnail file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := frame.WriteJPEG(tmp.Name(), quality); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}
