package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type actor struct {
	name      string
	execute   func() error
	interrupt func(error)
}

type RunGroupOption func(*RunGroup) error

func WithSystemInterrupt(ok bool) RunGroupOption {
	return func(rg *RunGroup) error {
		rg.systemInterrupt = ok
		return nil
	}
}

func WithStopTimeout(td time.Duration) RunGroupOption {
	return func(rg *RunGroup) error {
		if td <= 0 {
			return fmt.Errorf("stop timeout must be positive")
		}
		rg.stopTimeout = td
		return nil
	}
}

func WithRunGroupLogger(logger *Logger) RunGroupOption {
	return func(rg *RunGroup) error {
		rg.logger = logger
		return nil
	}
}

// RunGroup runs actors until the first one returns, then interrupts all of them.
type RunGroup struct {
	ctx             context.Context
	cancel          context.CancelFunc
	mu              sync.Mutex
	actors          []actor
	systemInterrupt bool
	stopTimeout     time.Duration
	started         bool
	logger          *Logger
}

const (
	defaultSystemInterrupt = true
	defaultStopTimeout     = 10 * time.Second
)

func NewRunGroup(opts ...RunGroupOption) (*RunGroup, error) {
	rg := &RunGroup{
		systemInterrupt: defaultSystemInterrupt,
		stopTimeout:     defaultStopTimeout,
		logger:          NewNopLogger(),
	}

	for _, opt := range opts {
		if err := opt(rg); err != nil {
			return nil, err
		}
	}
	return rg, nil
}

func (g *RunGroup) Add(name string, execute func() error, interrupt func(error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return fmt.Errorf("cannot add actor %q after Run has started", name)
	}
	g.actors = append(g.actors, actor{name, execute, interrupt})
	return nil
}

func (g *RunGroup) Run(baseCtx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return fmt.Errorf("run group already started")
	}
	g.started = true
	g.ctx, g.cancel = context.WithCancel(baseCtx)
	actors := append([]actor(nil), g.actors...)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.started = false
		g.mu.Unlock()
		g.cancel()
	}()

	if len(actors) == 0 {
		return nil
	}

	if g.systemInterrupt {
		g.watchSignals()
	}

	executeErrors := make(chan error, len(actors))
	executeComplete := make(chan string, len(actors))

	for _, a := range actors {
		go func(a actor) {
			if err := a.execute(); err != nil && !errors.Is(err, context.Canceled) {
				executeErrors <- fmt.Errorf("%s: %w", a.name, err)
				return
			}
			executeComplete <- a.name
		}(a)
	}

	var err error
	select {
	case err = <-executeErrors:
	case name := <-executeComplete:
		g.logger.Debug("actor finished", zap.String("actor", name))
	case <-g.ctx.Done():
		if !errors.Is(g.ctx.Err(), context.Canceled) {
			err = g.ctx.Err()
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), g.stopTimeout)
	defer stopCancel()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a actor) {
			defer wg.Done()
			a.interrupt(err)
		}(a)
	}

	interruptDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(interruptDone)
	}()

	select {
	case <-interruptDone:
		return err
	case <-stopCtx.Done():
		return fmt.Errorf("actors did not stop within %s: %w", g.stopTimeout, stopCtx.Err())
	}
}

func (g *RunGroup) watchSignals() {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "panic in signal handler: %v\n", r)
			}
		}()

		term := make(chan os.Signal, 1)
		signal.Notify(term, os.Interrupt, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM)
		defer signal.Stop(term)

		select {
		case sig := <-term:
			g.logger.Info("received signal, stopping", zap.String("signal", sig.String()))
			g.cancel()
		case <-g.ctx.Done():
		}
	}()
}
