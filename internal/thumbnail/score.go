package thumbnail

const (
	darkThreshold   = 40.0
	brightThreshold = 220.0
	exposurePenalty = 0.2
)

// ExposureAdjusted penalises the sharpness score of frames that are almost
// entirely dark or washed out.
func ExposureAdjusted(variance float64, brightness float64) float64 {
	if brightness < darkThreshold || brightness > brightThreshold {
		return variance * exposurePenalty
	}

	return variance
}
