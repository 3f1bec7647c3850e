package thumbnail_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/thumbnail"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type fakeSource struct {
	video *fakeVideo
	err   error
}

func (source *fakeSource) Open(string) (thumbnail.Video, error) {
	if source.err != nil {
		return nil, source.err
	}
	return source.video, nil
}

type fakeVideo struct {
	duration   float64
	frameCount int
	frames     func(i int, ts thumbnail.Timestamp) *fakeFrame
	requested  []thumbnail.Timestamp
	decoded    []*fakeFrame
	closed     bool
}

func (v *fakeVideo) Duration() float64 { return v.duration }
func (v *fakeVideo) FrameCount() int   { return v.frameCount }
func (v *fakeVideo) Close() error      { v.closed = true; return nil }

func (v *fakeVideo) FrameAt(ts thumbnail.Timestamp) (thumbnail.Frame, error) {
	i := len(v.requested)
	v.requested = append(v.requested, ts)
	frame := v.frames(i, ts)
	if frame == nil {
		return nil, errors.New("decode failed")
	}
	v.decoded = append(v.decoded, frame)
	return frame, nil
}

// fakeFrame reports a fixed sharpness and writes its label as the image.
type fakeFrame struct {
	label      string
	variance   float64
	brightness float64
	closed     bool
}

func (f *fakeFrame) Sharpness() (float64, float64) { return f.variance, f.brightness }
func (f *fakeFrame) Close() error                  { f.closed = true; return nil }

func (f *fakeFrame) WriteJPEG(path string, _ int) error {
	return os.WriteFile(path, []byte(f.label), 0o600)
}

func frame(label string, variance float64) *fakeFrame {
	return &fakeFrame{label: label, variance: variance, brightness: 128}
}

func Test_CandidateTimestamps_WithinWindow(t *testing.T) {
	durations := []float64{1, 3, 4.5, 10, 20, 60, 615.3, 7200}
	for _, d := range durations {
		start, end := thumbnail.SamplingWindow(d)
		ts := thumbnail.CandidateTimestamps(d, int(d*30), thumbnail.DefaultCandidates)
		require.Len(t, ts, thumbnail.DefaultCandidates)

		for i, stamp := range ts {
			assert.GreaterOrEqual(t, stamp.Seconds, start, "duration %v", d)
			assert.LessOrEqual(t, stamp.Seconds, end, "duration %v", d)
			assert.Less(t, stamp.Frame, int(d*30))
			if i > 0 {
				assert.Greater(t, stamp.Seconds, ts[i-1].Seconds)
			}
		}
	}
}

func Test_SamplingWindow(t *testing.T) {
	start, end := thumbnail.SamplingWindow(100)
	assert.InDelta(t, 10, start, 1e-9)
	assert.InDelta(t, 90, end, 1e-9)

	start, end = thumbnail.SamplingWindow(10)
	assert.InDelta(t, 2, start, 1e-9)
	assert.InDelta(t, 8, end, 1e-9)

	start, end = thumbnail.SamplingWindow(3)
	assert.Equal(t, 0.0, start)
	assert.Equal(t, 3.0, end)
}

func Test_CandidateTimestamps_Degenerate(t *testing.T) {
	assert.Empty(t, thumbnail.CandidateTimestamps(0, 100, 10))
	assert.Empty(t, thumbnail.CandidateTimestamps(-1, 100, 10))
	assert.Empty(t, thumbnail.CandidateTimestamps(10, 100, 0))

	ts := thumbnail.CandidateTimestamps(10, 0, 3)
	require.Len(t, ts, 3)
	for _, stamp := range ts {
		assert.Equal(t, -1, stamp.Frame)
	}
}

func Test_ExposureAdjusted(t *testing.T) {
	assert.InDelta(t, 20.0, thumbnail.ExposureAdjusted(100, 30), 1e-9)
	assert.InDelta(t, 20.0, thumbnail.ExposureAdjusted(100, 240), 1e-9)
	assert.InDelta(t, 100.0, thumbnail.ExposureAdjusted(100, 128), 1e-9)
}

func Test_Extract_SelectsSharpestFrame(t *testing.T) {
	video := &fakeVideo{
		duration:   100,
		frameCount: 3000,
		frames: func(i int, _ thumbnail.Timestamp) *fakeFrame {
			switch i {
			case 6:
				return frame("sharpest", 900)
			case 2:
				return frame("sharp", 400)
			}
			return frame("flat", 0)
		},
	}

	out := filepath.Join(t.TempDir(), "thumbs", "job-thumbnail.jpg")
	analyzer := thumbnail.NewAnalyzer(thumbnail.Config{}, &fakeSource{video: video})
	selection, err := analyzer.Extract(context.Background(), "clip.mp4", out)
	require.NoError(t, err)

	assert.Len(t, selection.Candidates, thumbnail.DefaultCandidates)
	assert.Equal(t, video.requested[6], selection.Best.Timestamp)
	assert.True(t, video.closed)
	for _, f := range video.decoded {
		assert.True(t, f.closed, "frame %s left open", f.label)
	}

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "sharpest", string(written))
}

func Test_Extract_PenalizesPoorExposure(t *testing.T) {
	video := &fakeVideo{
		duration: 60,
		frames: func(i int, _ thumbnail.Timestamp) *fakeFrame {
			if i == 0 {
				return &fakeFrame{label: "dark", variance: 500, brightness: 12}
			}
			return frame("exposed", 200)
		},
	}

	out := filepath.Join(t.TempDir(), "t.jpg")
	analyzer := thumbnail.NewAnalyzer(thumbnail.Config{Candidates: 3, PenalizeExposure: true}, &fakeSource{video: video})
	selection, err := analyzer.Extract(context.Background(), "clip.mp4", out)
	require.NoError(t, err)
	assert.Equal(t, video.requested[1], selection.Best.Timestamp)
	assert.InDelta(t, 100.0, selection.Candidates[0].Score, 1e-9)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "exposed", string(written))
}

func Test_Extract_TiesResolveToEarliest(t *testing.T) {
	video := &fakeVideo{
		duration: 50,
		frames:   func(int, thumbnail.Timestamp) *fakeFrame { return frame("same", 50) },
	}

	analyzer := thumbnail.NewAnalyzer(thumbnail.Config{Candidates: 5}, &fakeSource{video: video})
	selection, err := analyzer.Extract(context.Background(), "clip.mp4", filepath.Join(t.TempDir(), "t.jpg"))
	require.NoError(t, err)
	assert.Equal(t, video.requested[0], selection.Best.Timestamp)
}

func Test_Extract_Deterministic(t *testing.T) {
	run := func() thumbnail.Timestamp {
		video := &fakeVideo{
			duration:   42,
			frameCount: 1260,
			frames: func(i int, _ thumbnail.Timestamp) *fakeFrame {
				return frame("frame", float64(100/(1+i%4)))
			},
		}
		analyzer := thumbnail.NewAnalyzer(thumbnail.Config{}, &fakeSource{video: video})
		selection, err := analyzer.Extract(context.Background(), "clip.mp4", filepath.Join(t.TempDir(), "t.jpg"))
		require.NoError(t, err)
		return selection.Best.Timestamp
	}

	assert.Equal(t, run(), run())
}

func Test_Extract_SkipsUndecodableFrames(t *testing.T) {
	video := &fakeVideo{
		duration: 30,
		frames: func(i int, _ thumbnail.Timestamp) *fakeFrame {
			if i == 9 {
				return frame("last", 10)
			}
			return nil
		},
	}

	analyzer := thumbnail.NewAnalyzer(thumbnail.Config{}, &fakeSource{video: video})
	selection, err := analyzer.Extract(context.Background(), "clip.mp4", filepath.Join(t.TempDir(), "t.jpg"))
	require.NoError(t, err)
	assert.Len(t, selection.Candidates, 1)
	assert.Equal(t, video.requested[9], selection.Best.Timestamp)
}

func Test_Extract_NoFrames(t *testing.T) {
	video := &fakeVideo{
		duration: 30,
		frames:   func(int, thumbnail.Timestamp) *fakeFrame { return nil },
	}

	out := filepath.Join(t.TempDir(), "t.jpg")
	analyzer := thumbnail.NewAnalyzer(thumbnail.Config{}, &fakeSource{video: video})
	_, err := analyzer.Extract(context.Background(), "clip.mp4", out)
	assert.ErrorIs(t, err, thumbnail.ErrNoFrames)
	assert.NoFileExists(t, out)
}

func Test_Extract_OpenFailure(t *testing.T) {
	analyzer := thumbnail.NewAnalyzer(thumbnail.Config{}, &fakeSource{err: errors.New("corrupt")})
	_, err := analyzer.Extract(context.Background(), "clip.mp4", filepath.Join(t.TempDir(), "t.jpg"))
	assert.ErrorContains(t, err, "corrupt")
}

func Test_Extract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	video := &fakeVideo{duration: 30, frames: func(int, thumbnail.Timestamp) *fakeFrame { return frame("any", 1) }}
	analyzer := thumbnail.NewAnalyzer(thumbnail.Config{}, &fakeSource{video: video})
	_, err := analyzer.Extract(ctx, "clip.mp4", filepath.Join(t.TempDir(), "t.jpg"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, video.requested)
}

func Test_OutputPathFor(t *testing.T) {
	analyzer := thumbnail.NewAnalyzer(thumbnail.Config{OutputDir: "/thumbs"}, nil)
	assert.Equal(t, "/thumbs/abc-thumbnail.jpg", analyzer.OutputPathFor("abc", "/videos/clip.mp4"))

	analyzer = thumbnail.NewAnalyzer(thumbnail.Config{}, nil)
	assert.Equal(t, "/videos/abc-thumbnail.jpg", analyzer.OutputPathFor("abc", "/videos/clip.mp4"))
}
