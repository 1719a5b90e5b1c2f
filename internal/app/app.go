// Package app wires the engine, session, relay, capture and presentation
// adapter together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/duet/internal/adapter"
	"github.com/1ureka/duet/internal/capture"
	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/transport"
	"github.com/1ureka/duet/internal/util"
)

const shutdownTimeout = 5 * time.Second

// frontEnd is a presentation adapter: it receives relayed candidates and
// runs until the user quits or ctx is cancelled.
type frontEnd struct {
	sink signaling.CandidateSink
	run  func(ctx context.Context) error
}

// Run blocks until the user quits or ctx is cancelled, then closes the
// session, stops capture and releases the engine.
func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine, err := transport.NewEngine(ctx, transport.Options{ICEServers: cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("failed to create media engine: %w", err)
	}
	defer engine.Close()

	session := signaling.NewSession(engine)

	var controller *capture.Controller
	if cfg.Capture.Enabled {
		pipeline := capture.NewPipeline(capture.PipelineConfig{
			Launcher: cfg.Capture.Launcher,
			Source:   cfg.Capture.Source,
		}, engine)
		controller = capture.NewController(pipeline)

		// A missing launcher is not fatal: the session still works and the
		// toggle retries initialization.
		if err := controller.Initialize(ctx); err == nil {
			if _, err := controller.QueryState(ctx); err != nil {
				util.LogWarning("failed to query capture state: %v", err)
			}
		}
	}

	dispatcher := adapter.NewDispatcher(session, controller)

	fe, err := newFrontEnd(cfg, dispatcher, cancel)
	if err != nil {
		return err
	}

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return signaling.NewRelay(session, engine.LocalCandidates(), fe.sink).Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return fe.run(gctx)
	})
	runErr := g.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := session.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	if controller != nil {
		if err := controller.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop capture: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newFrontEnd(cfg *config.Config, dispatcher *adapter.Dispatcher, cancel context.CancelFunc) (frontEnd, error) {
	if cfg.UI.Mode == config.UIModeWeb {
		bridge := adapter.NewBridge(dispatcher, cfg.UI.Listen)
		pageURL, err := bridge.Start()
		if err != nil {
			return frontEnd{}, err
		}

		pterm.DefaultBox.WithTitle("Web page").Println(
			fmt.Sprintf("Open this address in a browser on this machine:\n%s", pageURL))
		pterm.Println()

		return frontEnd{sink: bridge.PushCandidate, run: bridge.Serve}, nil
	}

	console := adapter.NewConsole(dispatcher, cancel)
	return frontEnd{sink: console.ShowCandidate, run: console.Run}, nil
}
