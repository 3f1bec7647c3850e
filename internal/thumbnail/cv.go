package thumbnail

import (
	"fmt"
	"strconv"

	"github.com/floostack/transcoder/ffmpeg"
	"gocv.io/x/gocv"
)

// CVSource decodes frames with OpenCV. When the container does not report a
// usable frame rate, the duration is probed with ffprobe instead.
type CVSource struct {
	FfprobeBinaryPath string
}

type cvVideo struct {
	capture    *gocv.VideoCapture
	duration   float64
	frameCount int
	fps        float64
}

func (source *CVSource) Open(path string) (Video, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, err
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video capture for '%s' could not be opened", path)
	}

	video := &cvVideo{
		capture:    capture,
		frameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
		fps:        capture.Get(gocv.VideoCaptureFPS),
	}
	if video.fps > 0 && video.frameCount > 0 {
		video.duration = float64(video.frameCount) / video.fps
	} else if probed, err := source.probeDuration(path); err == nil {
		video.duration = probed
	} else {
		log.Warnf("Unable to determine duration of '%s': %v\n", path, err)
	}

	return video, nil
}

func (source *CVSource) probeDuration(path string) (float64, error) {
	metadata, err := ffmpeg.New(&ffmpeg.Config{FfprobeBinPath: source.FfprobeBinaryPath}).Input(path).GetMetadata()
	if err != nil {
		return 0, fmt.Errorf("failed to extract file metadata information using ffprobe: %w", err)
	}

	return strconv.ParseFloat(metadata.GetFormat().GetDuration(), 64)
}

func (video *cvVideo) Duration() float64 { return video.duration }
func (video *cvVideo) FrameCount() int   { return video.frameCount }

func (video *cvVideo) FrameAt(ts Timestamp) (Frame, error) {
	if ts.Frame >= 0 {
		video.capture.Set(gocv.VideoCapturePosFrames, float64(ts.Frame))
	} else {
		video.capture.Set(gocv.VideoCapturePosMsec, ts.Seconds*1000)
	}

	mat := gocv.NewMat()
	if ok := video.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("no frame decoded at %.2fs", ts.Seconds)
	}

	return &cvFrame{mat: mat}, nil
}

func (video *cvVideo) Close() error {
	return video.capture.Close()
}

// cvFrame is a decoded BGR frame.
type cvFrame struct {
	mat gocv.Mat
}

func (frame *cvFrame) Sharpness() (float64, float64) {
	gray := gocv.NewMat()
	defer gray.Close()
	if frame.mat.Channels() == 1 {
		frame.mat.CopyTo(&gray)
	} else {
		gocv.CvtColor(frame.mat, &gray, gocv.ColorBGRToGray)
	}

	laplacian := gocv.NewMat()
	defer laplacian.Close()
	gocv.Laplacian(gray, &laplacian, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(laplacian, &mean, &stddev)

	deviation := stddev.GetDoubleAt(0, 0)
	return deviation * deviation, gray.Mean().Val1
}

func (frame *cvFrame) WriteJPEG(path string, quality int) error {
	if !gocv.IMWriteWithParams(path, frame.mat, []int{int(gocv.IMWriteJpegQuality), quality}) {
		return fmt.Errorf("opencv could not write '%s'", path)
	}

	return nil
}

func (frame *cvFrame) Close() error {
	return frame.mat.Close()
}
