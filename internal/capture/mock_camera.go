package capture

import (
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// MockCamera plays back scripted frames for testing. Timestamps come from a
// synthetic clock advancing by a fixed interval per frame.
type MockCamera struct {
	frames   []*gocv.Mat
	index    int
	read     int
	loop     bool
	fps      int
	start    time.Time
	interval time.Duration
	mu       sync.Mutex
	running  bool
}

// NewMockCamera creates a mock source over frames at 30 FPS. Without loop,
// ReadFrame returns ErrEndOfStream after the last frame.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames:   frames,
		loop:     loop,
		fps:      DefaultFPS,
		start:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		interval: time.Second / DefaultFPS,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	c.read = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, errors.New("no frames available")
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrEndOfStream
		}
		c.index = 0
	}

	// Clone the frame so the original isn't modified
	mat := c.frames[c.index].Clone()
	frame := &Frame{
		Mat:       &mat,
		Timestamp: c.start.Add(time.Duration(c.read) * c.interval),
		Index:     c.read,
	}
	c.index++
	c.read++

	return frame, nil
}

// SetFPS changes the synthetic clock interval.
func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
	c.interval = time.Second / time.Duration(fps)
}

func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetInterval sets the synthetic time between frames, for variable timing tests.
func (c *MockCamera) SetInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
}

// SetStart sets the timestamp of the first frame.
func (c *MockCamera) SetStart(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = t
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
	c.read = 0
}
