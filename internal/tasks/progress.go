package tasks

import (
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultProgressInterval = time.Second
	progressMaxStep         = 5
	progressCeiling         = 95
)

// ProgressSimulator produces a cosmetic, monotonically increasing progress
// value while a training request is outstanding. The backend reports no
// progress, so the value says nothing about how close training is to done and
// never reaches 100 on its own.
type ProgressSimulator struct {
	Clock    clock.Clock // a clock that may be replaced by a mock when testing
	Interval time.Duration
	Rand     func() float64 // uniform in [0, 1)
}

func NewProgressSimulator(interval time.Duration) *ProgressSimulator {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &ProgressSimulator{
		Clock:    clock.New(),
		Interval: interval,
		Rand:     rand.Float64,
	}
}

func nextProgress(current, sample float64) float64 {
	return min(current+sample*progressMaxStep, progressCeiling)
}

// Start begins ticking from 0 and calls onTick with each new value from a
// separate goroutine. The returned stop function halts the ticker and blocks
// until that goroutine has exited, so onTick is never called after stop
// returns. stop is safe to call more than once.
func (s *ProgressSimulator) Start(onTick func(progress float64)) (stop func()) {
	ticker := s.Clock.Ticker(s.Interval)
	quit := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		progress := 0.0
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				select {
				case <-quit:
					return
				default:
				}
				progress = nextProgress(progress, s.Rand())
				onTick(progress)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(quit)
		})
		<-exited
	}
}
