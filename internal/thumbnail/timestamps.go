package thumbnail

import "math"

const (
	DefaultCandidates = 10

	edgeFraction = 0.1
	edgeSeconds  = 2.0
)

// Timestamp is a sampling position within a video. Frame is the frame index
// nearest to Seconds, or -1 when the frame count is unknown.
type Timestamp struct {
	Seconds float64
	Frame   int
}

// SamplingWindow returns the portion of a video that candidates are drawn
// from: the middle of the clip, skipping the first and last 10% or 2
// seconds (whichever is larger). Clips too short to have such a window
// fall back to their full length.
func SamplingWindow(duration float64) (float64, float64) {
	start := math.Max(duration*edgeFraction, edgeSeconds)
	end := math.Min(duration*(1-edgeFraction), duration-edgeSeconds)
	if end <= start {
		return 0, duration
	}

	return start, end
}

// CandidateTimestamps returns n timestamps evenly distributed across the
// sampling window of a video, each at the midpoint of an equal slice of the
// window so that every timestamp lies strictly inside it. The result is a
// pure function of its inputs.
func CandidateTimestamps(duration float64, frameCount int, n int) []Timestamp {
	if duration <= 0 || n <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil
	}

	start, end := SamplingWindow(duration)
	step := (end - start) / float64(n)
	fps := 0.0
	if frameCount > 0 {
		fps = float64(frameCount) / duration
	}

	timestamps := make([]Timestamp, n)
	for i := range timestamps {
		seconds := start + (float64(i)+0.5)*step
		frame := -1
		if fps > 0 {
			frame = min(int(seconds*fps), frameCount-1)
		}

		timestamps[i] = Timestamp{Seconds: seconds, Frame: frame}
	}

	return timestamps
}
