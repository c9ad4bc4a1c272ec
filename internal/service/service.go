// Package service owns chat sessions: it persists prompts and replies,
// runs one polling sequence per session at a time and fans lifecycle
// events out to connected clients.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/metrics"
	"github.com/xiaot623/carechat/internal/poller"
	"github.com/xiaot623/carechat/internal/repository"
)

// storeTimeout bounds store writes made from background polls.
const storeTimeout = 5 * time.Second

// Runner executes one polling sequence.
type Runner interface {
	Run(ctx context.Context, req domain.Request, rep poller.Reporter) poller.Outcome
}

// Notifier receives every recorded event.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev domain.Event)

func (f NotifierFunc) Notify(ctx context.Context, ev domain.Event) { f(ctx, ev) }

// Options holds the optional collaborators of a Service.
type Options struct {
	Notifiers []Notifier
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type inflight struct {
	pollID string
	cancel context.CancelFunc
	done   chan struct{}
}

type Service struct {
	store     repository.Store
	runner    Runner
	validate  *validator.Validate
	notifiers []Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]*inflight
	closed   bool
	wg       sync.WaitGroup
}

func New(store repository.Store, runner Runner, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:      store,
		runner:     runner,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		notifiers:  opts.Notifiers,
		metrics:    opts.Metrics,
		logger:     logger,
		rootCtx:    ctx,
		rootCancel: cancel,
		inflight:   make(map[string]*inflight),
	}
}

// AddNotifier registers n for events recorded after the call.
func (s *Service) AddNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

// Active returns the poll currently running for sessionID, if any.
func (s *Service) Active(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.inflight[sessionID]
	if !ok {
		return "", false
	}
	return f.pollID, true
}

// Shutdown cancels every running poll and waits for them to settle.
// New prompts are rejected with domain.ErrServiceClosed from then on.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.rootCancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
