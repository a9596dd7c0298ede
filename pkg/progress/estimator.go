// Package progress produces a synthetic, time-based progress signal for an
// analysis whose real completion cannot be observed incrementally.
package progress

import (
	"sync"
	"time"
)

const (
	// DefaultInterval is the sampling period.
	DefaultInterval = time.Second
	// DefaultExpected is the duration mapped onto the 0..95 range.
	DefaultExpected = 60 * time.Second

	// Ceiling is the highest fraction the estimator reaches on its own.
	Ceiling = 95.0
	// Done is emitted only by Complete.
	Done = 100.0
)

// Phase labels, in order.
const (
	PhaseUploading     = "uploading"
	PhasePreprocessing = "preprocessing"
	PhaseAnalyzing     = "analyzing"
	PhaseGenerating    = "generating report"
	PhaseFinishing     = "finishing"
	PhaseComplete      = "complete"
)

var phases = []struct {
	until time.Duration
	label string
}{
	{5 * time.Second, PhaseUploading},
	{15 * time.Second, PhasePreprocessing},
	{30 * time.Second, PhaseAnalyzing},
	{45 * time.Second, PhaseGenerating},
}

// Sample is one progress observation.
type Sample struct {
	Fraction float64
	Phase    string
	Elapsed  time.Duration
}

// PhaseAt is the cosmetic phase label for elapsed time.
func PhaseAt(elapsed time.Duration) string {
	for _, p := range phases {
		if elapsed < p.until {
			return p.label
		}
	}
	return PhaseFinishing
}

// FractionAt is min(elapsed/expected*100, 95).
func FractionAt(elapsed, expected time.Duration) float64 {
	if elapsed <= 0 || expected <= 0 {
		return 0
	}
	f := float64(elapsed) * 100 / float64(expected)
	if f > Ceiling {
		return Ceiling
	}
	return f
}

// Estimator starts progress runs.
type Estimator struct {
	interval time.Duration
	expected time.Duration
	now      func() time.Time
}

// NewEstimator creates an estimator sampling every interval against an
// expected total duration.
func NewEstimator(interval, expected time.Duration) *Estimator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if expected <= 0 {
		expected = DefaultExpected
	}
	return &Estimator{interval: interval, expected: expected, now: time.Now}
}

// Run is one running progress signal, owned by the attempt that started it.
type Run struct {
	est     *Estimator
	sink    func(Sample)
	started time.Time

	mu      sync.Mutex
	stopped bool
	last    Sample
	stop    chan struct{}
	done    chan struct{}
}

// Start emits an initial sample and then one sample per interval to sink
// until the run is stopped. sink is called from the run's goroutine and
// must not call back into the run.
func (e *Estimator) Start(sink func(Sample)) *Run {
	r := &Run{
		est:     e,
		sink:    sink,
		started: e.now(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.emit(Sample{Fraction: 0, Phase: PhaseAt(0)})
	go r.loop()
	return r
}

func (r *Run) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.est.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.stopped {
				r.mu.Unlock()
				return
			}
			elapsed := r.est.now().Sub(r.started)
			fraction := FractionAt(elapsed, r.est.expected)
			// Never step backwards, even if the clock does.
			if fraction < r.last.Fraction {
				fraction = r.last.Fraction
			}
			r.emitLocked(Sample{Fraction: fraction, Phase: PhaseAt(elapsed), Elapsed: elapsed})
			r.mu.Unlock()
		}
	}
}

func (r *Run) emit(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(s)
}

func (r *Run) emitLocked(s Sample) {
	r.last = s
	if r.sink != nil {
		r.sink(s)
	}
}

// Stop cancels sampling. It is idempotent, and once it returns no further
// sample is emitted.
func (r *Run) Stop() {
	r.finish(false)
}

// Complete emits a single final sample at 100 and stops. It has no effect
// on a run that was already stopped.
func (r *Run) Complete() {
	r.finish(true)
}

func (r *Run) finish(complete bool) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.stop)
	if complete {
		r.emitLocked(Sample{
			Fraction: Done,
			Phase:    PhaseComplete,
			Elapsed:  r.est.now().Sub(r.started),
		})
	}
	r.mu.Unlock()
	<-r.done
}

// Last returns the most recent sample.
func (r *Run) Last() Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
