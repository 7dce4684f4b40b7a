package restore

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// fakeDevice is an in-memory Device that can fail a chosen write
type fakeDevice struct {
	buf         bytes.Buffer
	writes      int
	failWriteAt int
	writeErr    error
	closed      int
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.writes++
	if d.failWriteAt > 0 && d.writes == d.failWriteAt {
		return 0, d.writeErr
	}
	return d.buf.Write(p)
}

func (d *fakeDevice) Close() error {
	d.closed++
	return nil
}

func (d *fakeDevice) Fd() uintptr {
	return ^uintptr(0)
}

// fakeTarget records the cleanup calls made by the engine
type fakeTarget struct {
	dev       *fakeDevice
	openErr   error
	formatErr error
	rescanErr error

	opens    int
	formats  []string
	rescans  int
	ctxAlive []bool
}

func (t *fakeTarget) OpenForRestore(ctx context.Context) (Device, error) {
	t.opens++
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.dev, nil
}

func (t *fakeTarget) Format(ctx context.Context, fsType string) error {
	t.formats = append(t.formats, fsType)
	t.ctxAlive = append(t.ctxAlive, ctx.Err() == nil)
	return t.formatErr
}

func (t *fakeTarget) Rescan(ctx context.Context) error {
	t.rescans++
	t.ctxAlive = append(t.ctxAlive, ctx.Err() == nil)
	return t.rescanErr
}

// countingReader counts Read calls and remembers what each returned
type countingReader struct {
	r       io.Reader
	reads   int
	results []int
	// interruptAt makes that call fail with err before reading anything
	interruptAt int
	err         error
	// panicAt makes that call panic
	panicAt int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	if c.panicAt > 0 && c.reads == c.panicAt {
		panic("read failed hard")
	}
	if c.interruptAt > 0 && c.reads == c.interruptAt {
		c.results = append(c.results, 0)
		return 0, c.err
	}
	n, err := c.r.Read(p)
	c.results = append(c.results, n)
	return n, err
}

// recordingSink keeps every progress update
type recordingSink struct {
	updates []Progress
}

func (s *recordingSink) Update(p Progress) {
	s.updates = append(s.updates, p)
}

// recordingLogger keeps warnings
type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Debug(string, ...interface{}) {}

func (l *recordingLogger) Warning(format string, args ...interface{}) {
	l.warnings = append(l.warnings, format)
}

var errDiskFull = errors.New("no space left on device")

func fixedCapacity(n uint64) func(Device) (uint64, error) {
	return func(Device) (uint64, error) { return n, nil }
}
