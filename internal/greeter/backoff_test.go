package greeter

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/greeter/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 2, rng)
	if got < 250*time.Millisecond || got > 750*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestNextBackoffDelayZeroInitial(t *testing.T) {
	testlog.Start(t)
	if got := NextBackoffDelay(BackoffConfig{Multiplier: 2}, 4, nil); got != 0 {
		t.Fatalf("expected zero delay, got %v", got)
	}
}

func TestNextBackoffDelayJitterNeverExceedsMax(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	for seed := int64(0); seed < 200; seed++ {
		got := NextBackoffDelay(cfg, 10, rand.New(rand.NewSource(seed)))
		if got > cfg.MaxDelay {
			t.Fatalf("seed %d: delay %v above max %v", seed, got, cfg.MaxDelay)
		}
	}
}

func TestNextBackoffDelayJittersFirstAttempt(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	seen := make(map[time.Duration]struct{})
	for seed := int64(0); seed < 20; seed++ {
		got := NextBackoffDelay(cfg, 1, rand.New(rand.NewSource(seed)))
		if got < cfg.InitialDelay/2 || got > cfg.InitialDelay*3/2 {
			t.Fatalf("seed %d: first delay out of range: %v", seed, got)
		}
		seen[got] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("first attempt delay did not vary with rng: %v", seen)
	}
}
