package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultUpdateInterval is how often progress is reported
const DefaultUpdateInterval = 200 * time.Millisecond

// Logger receives cleanup failures and debug output
type Logger interface {
	Debug(format string, args ...interface{})
	Warning(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})   {}
func (nopLogger) Warning(string, ...interface{}) {}

// Engine copies disk images onto block devices
type Engine struct {
	Logger         Logger
	Sink           ProgressSink
	UpdateInterval time.Duration
	Description    string

	// Capacity reads the size of an opened device; DeviceCapacity if nil
	Capacity func(dev Device) (uint64, error)

	now   func() time.Time
	alloc func(size int) (*AlignedBuffer, error)
}

func (e *Engine) logger() Logger {
	if e.Logger == nil {
		return nopLogger{}
	}
	return e.Logger
}

func (e *Engine) sink() ProgressSink {
	if e.Sink == nil {
		return nopSink{}
	}
	return e.Sink
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

// Restore writes size bytes from src to target. After a failed copy the
// target is formatted as empty; it is always rescanned afterwards. The
// returned error is the copy error, never a cleanup error.
func (e *Engine) Restore(ctx context.Context, src io.Reader, size uint64, target Target) error {
	log := e.logger()

	// Step 1: open the target
	opened, err := target.OpenForRestore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open device for restore: %w", err)
	}
	dev := &deviceOnce{Device: opened}
	defer dev.Close()

	// Step 2: real capacity of what was opened
	capacity := e.Capacity
	if capacity == nil {
		capacity = DeviceCapacity
	}
	devSize, err := capacity(opened)
	if err != nil {
		return fmt.Errorf("failed to get device size: %w", err)
	}
	if devSize == 0 {
		return ErrZeroCapacity
	}
	log.Debug("Device capacity is %d bytes, image is %d bytes", devSize, size)

	// Step 3: transfer buffer
	alloc := e.alloc
	if alloc == nil {
		alloc = NewAlignedBuffer
	}
	buf, err := alloc(ChunkSize)
	if err != nil {
		return err
	}
	defer buf.Close()

	total := size
	if total == 0 {
		total = devSize
	}

	// Step 4: copy
	copyErr := e.copy(ctx, src, dev, buf, total)
	if copyErr == nil {
		if s, ok := opened.(interface{ Sync() error }); ok {
			if err := s.Sync(); err != nil {
				copyErr = fmt.Errorf("failed to flush device: %w", err)
			}
		}
	}
	if err := dev.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("failed to close device: %w", err)
	}

	cleanupCtx := context.WithoutCancel(ctx)

	// Step 5: do not leave a half-written filesystem behind
	if copyErr != nil {
		if err := target.Format(cleanupCtx, "empty"); err != nil {
			log.Warning("Failed to wipe device after error: %v", err)
		}
	}

	// Step 6: partition table may have changed
	if err := target.Rescan(cleanupCtx); err != nil {
		log.Warning("Failed to rescan device: %v", err)
	}

	return copyErr
}

func (e *Engine) copy(ctx context.Context, src io.Reader, dev Device, buf *AlignedBuffer, total uint64) error {
	interval := e.UpdateInterval
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}

	est := NewEstimator(total)
	if e.now != nil {
		est.now = e.now
	}

	data := buf.Bytes()
	var completed uint64
	lastUpdate := e.clock().Add(-interval)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if now := e.clock(); now.Sub(lastUpdate) >= interval {
			est.AddSample(completed)
			e.report(est.Reading(), now)
			lastUpdate = now
		}

		n, err := src.Read(data)
		interrupted := errors.Is(err, unix.EINTR)
		if n == 0 {
			if interrupted {
				continue
			}
			if err == nil || err == io.EOF {
				break
			}
		}
		if err != nil && err != io.EOF && !interrupted {
			return fmt.Errorf("error reading disk image: %w", err)
		}

		written, werr := dev.Write(data[:n])
		if werr == nil && written != n {
			werr = io.ErrShortWrite
		}
		if werr != nil {
			return fmt.Errorf("error writing to device: %w", werr)
		}
		completed += uint64(n)

		if err == io.EOF {
			break
		}
	}

	est.AddSample(completed)
	e.report(est.Reading(), e.clock())
	return nil
}

func (e *Engine) report(r Reading, now time.Time) {
	p := Progress{
		Operation:   OperationRestore,
		Description: e.Description,
		Bytes:       r.Target,
		Completed:   r.Completed,
		Rate:        r.BytesPerSec,
		Cancelable:  true,
	}
	if r.Target > 0 {
		p.Progress = float64(r.Completed) / float64(r.Target)
		if p.Progress > 1 {
			p.Progress = 1
		}
	}
	if r.USecRemaining > 0 {
		p.ExpectedEndTime = now.Add(r.Remaining())
	}
	e.sink().Update(p)
}

// deviceOnce closes the wrapped device at most once
type deviceOnce struct {
	Device

	once sync.Once
	err  error
}

func (d *deviceOnce) Close() error {
	d.once.Do(func() { d.err = d.Device.Close() })
	return d.err
}
