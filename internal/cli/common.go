package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/nace/diskimg/internal/config"
	"github.com/nace/diskimg/internal/device"
	"github.com/nace/diskimg/internal/inhibit"
	"github.com/nace/diskimg/internal/job"
	"github.com/nace/diskimg/internal/restore"
	"github.com/nace/diskimg/internal/udisks"
	"github.com/nace/diskimg/internal/ui"
	"github.com/spf13/viper"
)

// StorageClient is every manager call the commands make
type StorageClient interface {
	device.LoopClient
	restore.BlockClient
	ResolveDevice(ctx context.Context, device string) ([]dbus.ObjectPath, error)
}

// Inhibitor takes a suspend inhibitor lock
type Inhibitor func(ctx context.Context, why string) (io.Closer, error)

// GlobalContext holds shared resources for all commands
type GlobalContext struct {
	Logger *ui.Logger
	Viper  *viper.Viper
	Config *config.Config
	Jobs   *job.Registry

	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Connect opens the storage client on first use
	Connect func(cfg *config.Config) (StorageClient, Inhibitor, error)

	client    StorageClient
	inhibitor Inhibitor
}

// NewGlobalContext creates a new global context
func NewGlobalContext(verbose, quiet, noColor bool) *GlobalContext {
	return &GlobalContext{
		Logger:  ui.NewLogger(verbose, quiet, noColor),
		Viper:   config.New(),
		Jobs:    job.NewRegistry(),
		In:      os.Stdin,
		Out:     os.Stdout,
		Err:     os.Stderr,
		Connect: connectSystemBus,
	}
}

func connectSystemBus(cfg *config.Config) (StorageClient, Inhibitor, error) {
	client, err := udisks.Connect()
	if err != nil {
		return nil, nil, err
	}
	client.Interactive = cfg.InteractiveAuth

	inhibitor := func(ctx context.Context, why string) (io.Closer, error) {
		return inhibit.Acquire(ctx, client.Conn(), "diskimg", why)
	}
	return client, inhibitor, nil
}

// LoadConfig reads the configuration once flags are parsed
func (ctx *GlobalContext) LoadConfig(configFile string) error {
	cfg, err := config.Load(ctx.Viper, configFile)
	if err != nil {
		return err
	}
	ctx.Config = cfg
	return nil
}

// Storage returns the storage client, connecting on first use
func (ctx *GlobalContext) Storage() (StorageClient, error) {
	if ctx.client != nil {
		return ctx.client, nil
	}
	if ctx.Config == nil {
		if err := ctx.LoadConfig(""); err != nil {
			return nil, err
		}
	}

	client, inhibitor, err := ctx.Connect(ctx.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage daemon: %w", err)
	}
	ctx.client = client
	ctx.inhibitor = inhibitor
	return client, nil
}

// LoopManager returns a loop manager on the storage client
func (ctx *GlobalContext) LoopManager() (*device.LoopManager, error) {
	client, err := ctx.Storage()
	if err != nil {
		return nil, err
	}
	return device.NewLoopManager(client, ctx.Logger), nil
}

// Inhibit takes a suspend inhibitor lock when configured to. A failure
// only logs a warning.
func (ctx *GlobalContext) Inhibit(c context.Context, why string) io.Closer {
	if !ctx.Config.InhibitSuspend || ctx.inhibitor == nil {
		return nopCloser{}
	}
	lock, err := ctx.inhibitor(c, why)
	if err != nil {
		ctx.Logger.Warning("Failed to inhibit suspend: %v", err)
		return nopCloser{}
	}
	return lock
}

// CancelJobsOn cancels every running job once c is done
func (ctx *GlobalContext) CancelJobsOn(c context.Context) {
	go func() {
		<-c.Done()
		ctx.Jobs.CancelAll()
	}()
}

// Render writes v in the configured output format
func (ctx *GlobalContext) Render(v interface{}, table func() *ui.Table) error {
	return ui.Render(ctx.Out, ctx.Config.Output, v, table)
}

// ReportError logs err unless the user dismissed the operation or it was
// logged already. The result marks err as reported so the root command
// exits non-zero without printing it twice.
func (ctx *GlobalContext) ReportError(heading string, err error) error {
	if err == nil {
		return nil
	}
	if IsReported(err) {
		return err
	}
	if udisks.IsDismissed(err) {
		ctx.Logger.Debug("%s: dismissed: %v", heading, err)
		return reported(err)
	}

	var unuseErr *device.UnuseError
	if errors.As(err, &unuseErr) {
		// Release failures carry their own heading
		ctx.Logger.Error("%s: %v", unuseErr.Stage, unuseErr.Err)
	} else {
		ctx.Logger.Error("%s: %v", heading, err)
	}
	return reported(err)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// errSilent marks an error that has already been reported
var errSilent = errors.New("operation failed")

// reportedError is an error that was already shown, or deliberately not
type reportedError struct {
	err error
}

func reported(err error) error {
	return &reportedError{err: err}
}

func (e *reportedError) Error() string {
	return e.err.Error()
}

func (e *reportedError) Unwrap() []error {
	return []error{e.err, errSilent}
}

// IsReported reports whether err was already shown to the user
func IsReported(err error) bool {
	return errors.Is(err, errSilent)
}
