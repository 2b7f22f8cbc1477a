package admission

import (
	"errors"
	"testing"
)

func TestAdmitBelowThreshold(t *testing.T) {
	c := New(1000, 0.85)
	c.SetMemoryFunc(func() uint64 { return 849 })

	if err := c.Admit(); err != nil {
		t.Errorf("Admit just below threshold: %v", err)
	}
}

func TestAdmitAtThreshold(t *testing.T) {
	c := New(1000, 0.85)
	c.SetMemoryFunc(func() uint64 { return 850 })

	err := c.Admit()
	if !errors.Is(err, ErrMemoryPressure) {
		t.Errorf("Admit at threshold: err = %v, want ErrMemoryPressure", err)
	}
}

func TestAdmitAboveThreshold(t *testing.T) {
	c := New(1000, 0.85)
	c.SetMemoryFunc(func() uint64 { return 999 })

	if err := c.Admit(); !errors.Is(err, ErrMemoryPressure) {
		t.Errorf("Admit above threshold: err = %v, want ErrMemoryPressure", err)
	}
}

func TestAdmitDisabled(t *testing.T) {
	c := New(0, 0.85)
	c.SetMemoryFunc(func() uint64 { return 1 << 40 })

	if err := c.Admit(); err != nil {
		t.Errorf("Admit with zero ceiling: %v", err)
	}
}

func TestBadSafetyFactorFallsBack(t *testing.T) {
	c := New(1000, 0)
	if c.Threshold() != 850 {
		t.Errorf("threshold = %d, want 850", c.Threshold())
	}

	c = New(1000, 1.5)
	if c.Threshold() != 850 {
		t.Errorf("threshold = %d, want 850", c.Threshold())
	}
}

func TestDefaultProbeDoesNotPanic(t *testing.T) {
	c := New(1<<40, 0.85)
	if err := c.Admit(); err != nil {
		t.Errorf("Admit with huge ceiling: %v", err)
	}
}
