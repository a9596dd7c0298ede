package progress

import (
	"sync"
	"testing"
	"time"
)

func TestPhaseAt(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    string
	}{
		{0, PhaseUploading},
		{4999 * time.Millisecond, PhaseUploading},
		{5 * time.Second, PhasePreprocessing},
		{14 * time.Second, PhasePreprocessing},
		{15 * time.Second, PhaseAnalyzing},
		{29 * time.Second, PhaseAnalyzing},
		{30 * time.Second, PhaseGenerating},
		{44 * time.Second, PhaseGenerating},
		{45 * time.Second, PhaseFinishing},
		{10 * time.Minute, PhaseFinishing},
	}
	for _, tt := range tests {
		if got := PhaseAt(tt.elapsed); got != tt.want {
			t.Errorf("PhaseAt(%v) = %q, want %q", tt.elapsed, got, tt.want)
		}
	}
}

func TestFractionAt(t *testing.T) {
	expected := 60 * time.Second
	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 0},
		{-time.Second, 0},
		{6 * time.Second, 10},
		{30 * time.Second, 50},
		{57 * time.Second, 95},
		{60 * time.Second, 95},
		{5 * time.Minute, 95},
	}
	for _, tt := range tests {
		if got := FractionAt(tt.elapsed, expected); got != tt.want {
			t.Errorf("FractionAt(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

type recorder struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *recorder) sink(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) snapshot() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

func TestRun_EmitsMonotonicSamplesBelowCeiling(t *testing.T) {
	e := NewEstimator(5*time.Millisecond, 50*time.Millisecond)
	rec := &recorder{}

	run := e.Start(rec.sink)
	time.Sleep(120 * time.Millisecond)
	run.Stop()

	samples := rec.snapshot()
	if len(samples) < 3 {
		t.Fatalf("expected several samples, got %d", len(samples))
	}
	if samples[0].Fraction != 0 || samples[0].Phase != PhaseUploading {
		t.Errorf("first sample = %+v", samples[0])
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Fraction < samples[i-1].Fraction {
			t.Errorf("sample %d went backwards: %v < %v", i, samples[i].Fraction, samples[i-1].Fraction)
		}
		if samples[i].Fraction > Ceiling {
			t.Errorf("sample %d exceeds ceiling: %v", i, samples[i].Fraction)
		}
	}
	if last := samples[len(samples)-1]; last.Fraction != Ceiling {
		t.Errorf("after exceeding expected duration progress should sit at %v, got %v", Ceiling, last.Fraction)
	}
}

func TestRun_StopHaltsSampling(t *testing.T) {
	e := NewEstimator(2*time.Millisecond, time.Second)
	rec := &recorder{}

	run := e.Start(rec.sink)
	time.Sleep(20 * time.Millisecond)
	run.Stop()
	count := len(rec.snapshot())

	time.Sleep(30 * time.Millisecond)
	if after := len(rec.snapshot()); after != count {
		t.Errorf("samples emitted after Stop: %d -> %d", count, after)
	}

	run.Stop()
	run.Complete()
	if after := len(rec.snapshot()); after != count {
		t.Error("Stop and Complete after Stop must be no-ops")
	}
}

func TestRun_CompleteForcesHundred(t *testing.T) {
	e := NewEstimator(time.Hour, time.Minute)
	rec := &recorder{}

	run := e.Start(rec.sink)
	run.Complete()
	run.Complete()

	samples := rec.snapshot()
	if len(samples) != 2 {
		t.Fatalf("expected initial and final sample, got %d", len(samples))
	}
	last := samples[1]
	if last.Fraction != Done || last.Phase != PhaseComplete {
		t.Errorf("final sample = %+v", last)
	}
	if run.Last().Fraction != Done {
		t.Error("Last should report the final sample")
	}
}
