package notifier

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"ccbell/internal/event"
	"ccbell/internal/eventbus"
	logx "ccbell/pkg/logx"
	"ccbell/pkg/opt"
)

type fakePlayer struct {
	mu     sync.Mutex
	played []string
	vols   []float64
	err    error
	block  chan struct{}
}

func (p *fakePlayer) Play(ctx context.Context, sound string, volume float64) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, sound)
	p.vols = append(p.vols, volume)
	return p.err
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueuePlaysInOrder(t *testing.T) {
	t.Parallel()
	p := &fakePlayer{}
	bus := eventbus.New()
	played, unsub := bus.Subscribe(8, TopicPlayed)
	defer unsub()

	s := New(Config{Enabled: true, RatePerSec: 100, Volume: opt.Some(0.5)}, p, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	vol := 0.9
	if err := s.Enqueue(context.Background(), Request{EventType: event.Stop, Sound: "a.wav"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(context.Background(), Request{EventType: event.IdlePrompt, Sound: "b.wav", Volume: &vol}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return p.count() == 2 })

	p.mu.Lock()
	defer p.mu.Unlock()
	if !reflect.DeepEqual(p.played, []string{"a.wav", "b.wav"}) {
		t.Fatalf("played %v", p.played)
	}
	if !reflect.DeepEqual(p.vols, []float64{0.5, 0.9}) {
		t.Fatalf("volumes %v", p.vols)
	}
	waitFor(t, func() bool { return len(s.History()) == 2 })
	if h := s.History(); h[0].Outcome != OutcomePlayed || h[1].EventType != event.IdlePrompt {
		t.Fatalf("unexpected history %+v", h)
	}
	waitFor(t, func() bool { return len(played) == 2 })
}

func TestEnqueueErrors(t *testing.T) {
	t.Parallel()
	off := New(Config{Enabled: false}, &fakePlayer{}, logx.Nop(), nil)
	if err := off.Enqueue(context.Background(), Request{Sound: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: got %v", err)
	}

	s := New(Config{Enabled: true}, &fakePlayer{}, logx.Nop(), nil)
	if err := s.Enqueue(context.Background(), Request{Sound: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started: got %v", err)
	}
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Enqueue(context.Background(), Request{Sound: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped: got %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	p := &fakePlayer{block: make(chan struct{})}
	s := New(Config{Enabled: true, QueueSize: 1, RatePerSec: 100}, p, logx.Nop(), nil)
	s.Start(context.Background())
	defer func() {
		close(p.block)
		s.Stop(context.Background())
	}()

	var full error
	// One request blocks in the player and one fills the queue.
	for i := 0; i < 10 && full == nil; i++ {
		if err := s.Enqueue(context.Background(), Request{EventType: event.Stop, Sound: "x"}); err != nil {
			full = err
		}
	}
	if !errors.Is(full, ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull", full)
	}
	h := s.History()
	if len(h) == 0 || h[len(h)-1].Outcome != OutcomeDropped {
		t.Fatalf("drop not recorded: %+v", h)
	}
}

func TestRateLimitSpacesPlays(t *testing.T) {
	t.Parallel()
	p := &fakePlayer{}
	s := New(Config{Enabled: true, RatePerSec: 5}, p, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	start := time.Now()
	for i := 0; i < 7; i++ {
		if err := s.Enqueue(context.Background(), Request{EventType: event.Stop, Sound: "x"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitFor(t, func() bool { return p.count() == 7 })
	// Burst of 5, then two more at 200ms each.
	if took := time.Since(start); took < 300*time.Millisecond {
		t.Fatalf("7 plays took %v; rate limit not applied", took)
	}
}

func TestPlayNowReportsFailure(t *testing.T) {
	t.Parallel()
	p := &fakePlayer{err: errors.New("no audio device")}
	s := New(Config{Enabled: true}, p, logx.Nop(), nil)
	err := s.PlayNow(context.Background(), Request{EventType: event.Stop, Sound: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	h := s.History()
	if len(h) != 1 || h[0].Outcome != OutcomeFailed || h[0].Error == "" {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestConfiguredVolume(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		volume opt.Value[float64]
		want   float64
	}{
		{name: "explicit silence", volume: opt.Some(0.0), want: 0},
		{name: "unset", volume: opt.None[float64](), want: 1},
		{name: "out of range", volume: opt.Some(1.5), want: 1},
		{name: "half", volume: opt.Some(0.5), want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &fakePlayer{}
			s := New(Config{Enabled: true, Volume: tt.volume}, p, logx.Nop(), nil)
			if err := s.PlayNow(context.Background(), Request{EventType: event.Stop, Sound: "x.wav"}); err != nil {
				t.Fatalf("PlayNow: %v", err)
			}
			p.mu.Lock()
			defer p.mu.Unlock()
			if len(p.vols) != 1 || p.vols[0] != tt.want {
				t.Fatalf("player received %v, want [%v]", p.vols, tt.want)
			}
		})
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, HistorySize: 3}, &fakePlayer{}, logx.Nop(), nil)
	for i := 0; i < 5; i++ {
		_ = s.PlayNow(context.Background(), Request{EventType: event.Stop, Sound: "x"})
	}
	if n := len(s.History()); n != 3 {
		t.Fatalf("history length %d, want 3", n)
	}
}

func TestCommandPlayerExpand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		argv []string
		want []string
	}{
		{argv: []string{"afplay", "-v", "{volume}", "{sound}"}, want: []string{"afplay", "-v", "0.50", "/s.aiff"}},
		{argv: []string{"paplay"}, want: []string{"paplay", "/s.aiff"}},
		{argv: []string{"play", "--vol={volume_pct}", "{sound}"}, want: []string{"play", "--vol=50", "/s.aiff"}},
	}
	for _, tt := range tests {
		got := (&CommandPlayer{Argv: tt.argv}).expand("/s.aiff", 0.5)
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("expand(%v) = %v, want %v", tt.argv, got, tt.want)
		}
	}
	if err := (&CommandPlayer{}).Play(context.Background(), "x", 1); !errors.Is(err, ErrNoCommand) {
		t.Fatalf("empty argv: got %v", err)
	}
}

func TestDefaultSound(t *testing.T) {
	t.Parallel()
	if DefaultSound("linux", event.PermissionPrompt) == DefaultSound("linux", event.Stop) {
		t.Fatal("permission prompts should have a distinct sound")
	}
	if DefaultSound("plan9", event.Stop) != "" || DefaultCommand("plan9") != nil {
		t.Fatal("unknown platforms have no defaults")
	}
}
