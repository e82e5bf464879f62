package urgency

import (
	"testing"
	"time"

	"dispatch/internal/domain"
)

func classifyWithRemaining(t *testing.T, remainingMin float64) domain.Urgency {
	t.Helper()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-2 * time.Hour)
	deadline := now.Add(time.Duration(remainingMin * float64(time.Minute)))
	return Classify(created, deadline, now)
}

func TestClassify_Critical(t *testing.T) {
	u := classifyWithRemaining(t, 20)
	if u.Category != domain.UrgencyCritical {
		t.Errorf("expected CRITICAL, got %s", u.Category)
	}
	if u.PriorityBoost != 10 {
		t.Errorf("expected boost 10, got %d", u.PriorityBoost)
	}
}

func TestClassify_Urgent(t *testing.T) {
	u := classifyWithRemaining(t, 45)
	if u.Category != domain.UrgencyUrgent {
		t.Errorf("expected URGENT, got %s", u.Category)
	}
}

func TestClassify_Normal(t *testing.T) {
	u := classifyWithRemaining(t, 90)
	if u.Category != domain.UrgencyNormal {
		t.Errorf("expected NORMAL, got %s", u.Category)
	}
	if u.PriorityBoost != 5 {
		t.Errorf("expected boost 5, got %d", u.PriorityBoost)
	}
}

func TestClassify_Flexible(t *testing.T) {
	u := classifyWithRemaining(t, 240)
	if u.Category != domain.UrgencyFlexible {
		t.Errorf("expected FLEXIBLE, got %s", u.Category)
	}
}

func TestClassify_Overdue(t *testing.T) {
	u := classifyWithRemaining(t, -5)
	if u.Category != domain.UrgencyCritical {
		t.Errorf("expected CRITICAL for overdue, got %s", u.Category)
	}
	if !u.Overdue {
		t.Error("expected overdue=true")
	}
}

func TestClassify_BoundaryAt30(t *testing.T) {
	u := classifyWithRemaining(t, 30)
	if u.Category != domain.UrgencyUrgent {
		t.Errorf("expected URGENT at the 30-minute boundary, got %s", u.Category)
	}
}

func TestClassify_BoundaryJustBelow30(t *testing.T) {
	u := classifyWithRemaining(t, 29.999)
	if u.Category != domain.UrgencyCritical {
		t.Errorf("expected CRITICAL just below 30 minutes, got %s", u.Category)
	}
}

func TestClassify_BoundaryAt60(t *testing.T) {
	u := classifyWithRemaining(t, 60)
	if u.Category != domain.UrgencyNormal {
		t.Errorf("expected NORMAL at the 60-minute boundary, got %s", u.Category)
	}
}

func TestClassify_BoundaryAt180(t *testing.T) {
	u := classifyWithRemaining(t, 180)
	if u.Category != domain.UrgencyNormal {
		t.Errorf("expected NORMAL at the 180-minute boundary, got %s", u.Category)
	}
}
