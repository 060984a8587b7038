package notifier

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"ccbell/internal/eventbus"
	"ccbell/internal/metrics"
	rtsup "ccbell/internal/runtime/supervisor"
	logx "ccbell/pkg/logx"
	"ccbell/pkg/opt"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service implements the playback pipeline:
// queue + worker + rate limit + history.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	player Player
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Request
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, player Player, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if player == nil {
		player = NewCommandPlayer(cfg.Command)
	}
	s := &Service{player: player, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps configuration. Queue size and worker count take effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if v, ok := cfg.Volume.Get(); !ok || v < 0 || v > 1 {
		cfg.Volume = opt.Some(1.0)
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Request, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))))
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("player.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping || c.Err() != nil {
				return nil
			}
			return errors.New("player worker exited unexpectedly")
		})
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close so workers drain and exit.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		metrics.SetQueueDepth(0)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Force-stop: cancels running commands.
		sup.Cancel()
	}
}

// Supervisor returns the worker supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Enqueue schedules req for playback without waiting for it.
func (s *Service) Enqueue(ctx context.Context, req Request) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if req.At.IsZero() {
		req.At = time.Now()
	}
	select {
	case q <- req:
		metrics.SetQueueDepth(len(q))
		s.publish(TopicQueued, req, nil)
		return nil
	default:
		s.record(req, "", OutcomeDropped, ErrQueueFull, 0)
		s.publish(TopicDropped, req, ErrQueueFull)
		return ErrQueueFull
	}
}

// PlayNow plays req synchronously, bypassing the queue and rate limit.
func (s *Service) PlayNow(ctx context.Context, req Request) error {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	s.mu.Unlock()
	if !enabled {
		return ErrDisabled
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}
	return s.play(ctx, req)
}

// History returns recent plays, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Request) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-q:
			if !ok {
				return
			}
			metrics.SetQueueDepth(len(q))

			s.mu.Lock()
			lim := s.limiter
			s.mu.Unlock()
			if err := lim.Wait(ctx); err != nil {
				return
			}
			_ = s.play(ctx, req)
		}
	}
}

func (s *Service) play(ctx context.Context, req Request) error {
	s.mu.Lock()
	cfg := s.cfg
	player := s.player
	s.mu.Unlock()

	sound := req.Sound
	if sound == "" {
		sound = DefaultSound(runtime.GOOS, req.EventType)
	}
	if sound == "" {
		s.record(req, "", OutcomeSkipped, nil, 0)
		return nil
	}
	volume := cfg.Volume.Or(1)
	if req.Volume != nil {
		volume = *req.Volume
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	start := time.Now()
	err := player.Play(callCtx, sound, volume)
	cancel()
	took := time.Since(start)

	if err != nil {
		s.log.Warn("sound playback failed",
			logx.String("event_type", string(req.EventType)),
			logx.String("sound", sound),
			logx.Err(err),
		)
		s.record(req, sound, OutcomeFailed, err, took)
		s.publish(TopicFailed, req, err)
		return err
	}
	s.log.Debug("sound played",
		logx.String("event_type", string(req.EventType)),
		logx.String("sound", sound),
		logx.Duration("took", took),
	)
	s.record(req, sound, OutcomePlayed, nil, took)
	s.publish(TopicPlayed, req, nil)
	return nil
}

func (s *Service) record(req Request, sound, outcome string, err error, took time.Duration) {
	metrics.RecordPlay(string(req.EventType), outcome, took)

	item := HistoryItem{
		At:        req.At,
		EventType: req.EventType,
		EventID:   req.EventID,
		Sound:     sound,
		Outcome:   outcome,
		Took:      took,
	}
	if err != nil {
		item.Error = err.Error()
	}

	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(topic string, req Request, err error) {
	if s.bus == nil {
		return
	}
	ev := PlayEvent{EventType: req.EventType, EventID: req.EventID, Sound: req.Sound, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: ev.At, Data: ev})
}
