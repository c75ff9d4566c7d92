// Package capture provides frame sources using GoCV (OpenCV): camera
// devices, video files and a scripted mock for tests.
package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default capture settings
const (
	DefaultFPS      = 30
	DefaultWidth    = 640
	DefaultHeight   = 480
	DefaultMaxWidth = 640
)

var (
	// ErrCameraNotOpen is returned when trying to read from a source that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrEndOfStream is returned once a finite source has no more frames.
	// It is terminal, not a failure.
	ErrEndOfStream = errors.New("end of stream")
)

// Frame is a captured image with its capture time and sequence number.
// The caller owns Mat and must Close the frame.
type Frame struct {
	Mat       *gocv.Mat
	Timestamp time.Time
	Index     int
}

// Close releases the frame image.
func (f *Frame) Close() error {
	if f == nil || f.Mat == nil {
		return nil
	}
	err := f.Mat.Close()
	f.Mat = nil
	return err
}

// Source defines the interface for frame source implementations.
type Source interface {
	Open() error
	Close() error
	ReadFrame() (*Frame, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Options controls the device request and the preprocessing applied to
// every frame.
type Options struct {
	Width  int
	Height int
	FPS    int
	// MaxWidth downscales wider frames, keeping the aspect ratio.
	MaxWidth int
	// Mirror flips frames horizontally so the image behaves like a mirror.
	Mirror bool
}

// DefaultOptions returns Options with sensible default values.
func DefaultOptions() Options {
	return Options{
		Width:    DefaultWidth,
		Height:   DefaultHeight,
		FPS:      DefaultFPS,
		MaxWidth: DefaultMaxWidth,
		Mirror:   true,
	}
}

// videoSource manages capture from a camera device or a video file.
type videoSource struct {
	device any // int device id or file path
	file   bool
	opts   Options

	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
	index   int
	start   time.Time
	now     func() time.Time
}

// NewCamera creates a Source reading from the given camera device.
func NewCamera(deviceID int, opts Options) Source {
	return newVideoSource(deviceID, false, opts)
}

// NewFile creates a Source replaying a video file. Frame timestamps follow
// the file's frame rate, and ReadFrame returns ErrEndOfStream after the
// last frame.
func NewFile(path string, opts Options) Source {
	return newVideoSource(path, true, opts)
}

func newVideoSource(device any, file bool, opts Options) *videoSource {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	return &videoSource{
		device: device,
		file:   file,
		opts:   opts,
		fps:    opts.FPS,
		now:    time.Now,
	}
}

// Open opens the device or file for capturing frames.
func (c *videoSource) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.device)
	if err != nil {
		return fmt.Errorf("open capture %v: %w", c.device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open capture %v: not opened", c.device)
	}

	if c.file {
		if fps := capture.Get(gocv.VideoCaptureFPS); fps > 0 {
			c.fps = int(fps + 0.5)
		}
	} else {
		if c.opts.Width > 0 && c.opts.Height > 0 {
			capture.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Width))
			capture.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Height))
		}
		capture.Set(gocv.VideoCaptureFPS, float64(c.fps))
	}

	c.capture = capture
	c.running = true
	c.index = 0
	c.start = c.now()

	return nil
}

// Close closes the source and releases resources.
func (c *videoSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads and preprocesses a single frame.
// The caller is responsible for closing the returned Frame.
func (c *videoSource) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		if c.file {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("failed to read frame from camera")
	}

	Preprocess(&mat, c.opts)

	ts := c.now()
	if c.file {
		ts = c.start.Add(time.Duration(c.index) * time.Second / time.Duration(c.fps))
	}
	frame := &Frame{Mat: &mat, Timestamp: ts, Index: c.index}
	c.index++

	return frame, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *videoSource) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil && !c.file {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *videoSource) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the source is currently open and running.
func (c *videoSource) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// Preprocess downscales mat in place to at most opts.MaxWidth and mirrors it
// when opts.Mirror is set.
func Preprocess(mat *gocv.Mat, opts Options) {
	if mat.Empty() {
		return
	}

	if opts.MaxWidth > 0 && mat.Cols() > opts.MaxWidth {
		scale := float64(opts.MaxWidth) / float64(mat.Cols())
		resized := gocv.NewMat()
		gocv.Resize(*mat, &resized, image.Point{}, scale, scale, gocv.InterpolationArea)
		mat.Close()
		*mat = resized
	}

	if opts.Mirror {
		gocv.Flip(*mat, mat, 1)
	}
}
