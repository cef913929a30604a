package models

import (
	"testing"
	"time"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhasePending, PhaseDownloading, true},
		{PhaseDownloading, PhaseAnalyzing, true},
		{PhaseAnalyzing, PhaseMatching, true},
		{PhaseMatching, PhaseComplete, true},

		// Every active phase may fail.
		{PhasePending, PhaseFailed, true},
		{PhaseDownloading, PhaseFailed, true},
		{PhaseAnalyzing, PhaseFailed, true},
		{PhaseMatching, PhaseFailed, true},

		// Retry re-enters downloading, nothing else.
		{PhaseFailed, PhaseDownloading, true},
		{PhaseFailed, PhaseAnalyzing, false},
		{PhaseFailed, PhasePending, false},

		// No skipping forward, no moving back, complete is terminal.
		{PhasePending, PhaseAnalyzing, false},
		{PhaseDownloading, PhaseMatching, false},
		{PhaseAnalyzing, PhaseDownloading, false},
		{PhaseComplete, PhaseFailed, false},
		{PhaseComplete, PhaseDownloading, false},
		{PhaseMatching, PhaseAnalyzing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := ValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestJobRecord_Transition(t *testing.T) {
	job := &JobRecord{JobID: "j1", Phase: PhasePending, Status: StatusPending}

	// A successful run visits the phases in order.
	path := []Phase{PhaseDownloading, PhaseAnalyzing, PhaseMatching, PhaseComplete}
	for _, next := range path {
		before := time.Now().UTC()
		if err := job.Transition(next); err != nil {
			t.Fatalf("Transition(%s) error = %v", next, err)
		}
		if job.Phase != next {
			t.Fatalf("Phase = %s, want %s", job.Phase, next)
		}
		if job.Status != StatusForPhase(next) {
			t.Errorf("Status = %s, want %s", job.Status, StatusForPhase(next))
		}
		if job.UpdatedAt.Before(before) {
			t.Error("UpdatedAt not advanced")
		}
	}

	if err := job.Transition(PhaseFailed); err == nil {
		t.Error("Transition(failed) from complete succeeded, want error")
	}
}

func TestJobRecord_RetryFlow(t *testing.T) {
	job := &JobRecord{JobID: "j1", Phase: PhasePending, Status: StatusPending, MaxRetries: 3}

	if err := job.Transition(PhaseDownloading); err != nil {
		t.Fatal(err)
	}

	// Three transient download failures exhaust the budget.
	job.RetryCount = 3
	if err := job.Transition(PhaseFailed); err != nil {
		t.Fatal(err)
	}
	if job.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", job.Status, StatusFailed)
	}

	// A manual retry re-enters downloading.
	if err := job.Transition(PhaseDownloading); err != nil {
		t.Fatalf("retry transition error = %v", err)
	}
	if job.Status != StatusProcessing {
		t.Errorf("Status = %s, want %s", job.Status, StatusProcessing)
	}
	if job.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want preserved across retry", job.RetryCount)
	}
}

func TestPhaseTerminal(t *testing.T) {
	for phase, terminal := range map[Phase]bool{
		PhasePending:     false,
		PhaseDownloading: false,
		PhaseAnalyzing:   false,
		PhaseMatching:    false,
		PhaseComplete:    true,
		PhaseFailed:      true,
	} {
		if got := phase.Terminal(); got != terminal {
			t.Errorf("%s.Terminal() = %v, want %v", phase, got, terminal)
		}
	}
}
