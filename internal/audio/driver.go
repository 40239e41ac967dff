package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/logger"
)

const (
	OutputNone   = "none"
	OutputFFPlay = "ffplay"

	driverBlockFrames = 1024
)

// Output consumes rendered PCM
type Output interface {
	Write(samples []float32) error
	Close() error
}

type discardOutput struct{}

func (discardOutput) Write([]float32) error { return nil }
func (discardOutput) Close() error          { return nil }

// pipeOutput streams s16le PCM into a player process
type pipeOutput struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	buf   []byte
}

// NewFFPlayOutput starts ffplay reading raw stereo PCM from stdin
func NewFFPlayOutput(ctx context.Context, sampleRate int) (Output, error) {
	cmd := exec.CommandContext(ctx, "ffplay",
		"-nodisp",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ch_layout", "stereo",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffplay stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffplay: %w", err)
	}
	return &pipeOutput{cmd: cmd, stdin: stdin}, nil
}

func (p *pipeOutput) Write(samples []float32) error {
	p.buf = toPCM16(p.buf[:0], samples)
	_, err := p.stdin.Write(p.buf)
	return err
}

func (p *pipeOutput) Close() error {
	_ = p.stdin.Close()
	return p.cmd.Wait()
}

// NewOutput picks the device for the configured output kind
func NewOutput(ctx context.Context, kind string, sampleRate int) (Output, error) {
	switch kind {
	case "", OutputNone:
		return discardOutput{}, nil
	case OutputFFPlay:
		return NewFFPlayOutput(ctx, sampleRate)
	default:
		return nil, fmt.Errorf("unknown audio output %q", kind)
	}
}

// Driver pulls blocks from the engine at the wall-clock rate, which is what
// advances the engine clock the scheduler reads.
type Driver struct {
	engine *Engine
	out    Output
	frames int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewDriver connects engine to out
func NewDriver(engine *Engine, out Output) *Driver {
	return &Driver{engine: engine, out: out, frames: driverBlockFrames}
}

// Start begins rendering in the background; it is a no-op when running
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	go d.run(ctx, d.done)
}

func (d *Driver) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	period := time.Duration(float64(d.frames) / float64(d.engine.SampleRate()) * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	block := make([]float32, d.frames*2)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.engine.Render(block)
			if err := d.out.Write(block); err != nil {
				logger.Error("Audio output failed, switching to silent output", err, nil)
				d.out = discardOutput{}
			}
		}
	}
}

// Close stops rendering and closes the output
func (d *Driver) Close() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.running = false
	d.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return d.out.Close()
}
