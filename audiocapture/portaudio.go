package audiocapture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"go.aimuz.me/miaoshu/internal/types"
)

const framesPerBuffer = 1024

// capturer records mono float32 audio from the default input device.
// PortAudio is initialised per capture so the device is fully released
// between recordings.
type capturer struct {
	sampleRate int

	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool
}

// New creates a PortAudio Capturer.
func New(sampleRate int) (Capturer, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &capturer{sampleRate: sampleRate}, nil
}

func (c *capturer) Start(handler AudioHandler) error {
	if handler == nil {
		return errors.New("audiocapture: nil handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrRunning
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.sampleRate), framesPerBuffer, func(in []float32) {
		handler(in)
	})
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start stream: %w", err)
	}

	c.stream = stream
	c.running = true
	return nil
}

func (c *capturer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	stream := c.stream
	c.stream = nil

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio terminate: %w", err))
	}
	return errors.Join(errs...)
}

// CheckPermission verifies that an input device can be reached. On macOS a
// denied microphone grant surfaces as a missing default input device.
func CheckPermission() error {
	if err := portaudio.Initialize(); err != nil {
		return &types.PermissionError{Grant: types.GrantMicrophone, Err: err}
	}
	defer portaudio.Terminate()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return &types.PermissionError{Grant: types.GrantMicrophone, Err: err}
	}
	if dev == nil || dev.MaxInputChannels < 1 {
		return &types.PermissionError{Grant: types.GrantMicrophone, Err: errors.New("no input device")}
	}
	return nil
}
