package serve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal"
	"github.com/tinyland-inc/formbridge/pkg/config"
	"github.com/tinyland-inc/formbridge/pkg/contentview"
	"github.com/tinyland-inc/formbridge/pkg/lifecycle"
	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

// errFinished ends the run group once the view is done.
var errFinished = errors.New("content view finished")

// doner is implemented by transports whose read loop can end on its own.
type doner interface {
	Done() <-chan struct{}
}

func serveCmd(cmd *cobra.Command, opts options) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	closeLog, err := internal.SetupLogging(cfg, opts.debug)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := internal.OpenTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("error opening transport: %w", err)
	}

	view, err := internal.NewView(cfg, t, internal.StaticForm(opts.pages))
	if err != nil {
		t.Close()
		return fmt.Errorf("error creating content view: %w", err)
	}
	defer view.Close()

	return run(ctx, view)
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.mode != "" {
		cfg.Host.Mode = opts.mode
	}
	if opts.url != "" {
		cfg.Host.URL = opts.url
	}
	if opts.allowReinit {
		cfg.Bridge.AllowReinit = true
	}
}

// run starts the view and blocks until ctx ends, the host hangs up, or
// the view reaches a terminal state.
func run(ctx context.Context, view *contentview.View) error {
	view.Machine().Subscribe(func(tr lifecycle.Transition) {
		fields := map[string]any{"from": tr.From.String(), "to": tr.To.String()}
		if tr.Err != nil {
			fields["error"] = tr.Err.Error()
		}
		logger.InfoCF("serve", "Content view state changed", fields)
	})
	view.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		view.RunAutosave(gctx)
		return nil
	})
	g.Go(func() error {
		defer func() { _ = view.Close() }()
		return waitForEnd(gctx, view)
	})

	err := g.Wait()
	if errors.Is(err, errFinished) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func waitForEnd(ctx context.Context, view *contentview.View) error {
	var hostGone <-chan struct{}
	if d, ok := view.Transport().(doner); ok {
		hostGone = d.Done()
	}

	terminal := make(chan lifecycle.State, 1)
	go func() {
		s, err := view.WaitFor(ctx, lifecycle.StateCompleted, lifecycle.StateErrored)
		if err == nil {
			terminal <- s
		}
	}()

	select {
	case <-ctx.Done():
		logger.InfoC("serve", "Shutting down")
		return ctx.Err()
	case <-hostGone:
		logger.InfoC("serve", "Host disconnected")
		return errFinished
	case s := <-terminal:
		logger.InfoCF("serve", "Content view finished", map[string]any{"state": s.String()})
		if s == lifecycle.StateErrored {
			return fmt.Errorf("content view failed to initialize")
		}
		return errFinished
	}
}

var _ doner = (*transport.Stdio)(nil)
