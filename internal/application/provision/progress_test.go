package provisionapp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Complete(t *testing.T) {
	steps := []Step{{Name: "a", Weight: 1}, {Name: "b", Weight: 3}}
	type call struct {
		step       string
		inc, total float64
	}
	var calls []call
	p := NewProgressTracker(steps, func(step string, inc, total float64) {
		calls = append(calls, call{step, inc, total})
	})

	assert.InDelta(t, 25.0, p.Complete(context.Background(), steps[0]), 0.001)
	assert.InDelta(t, 100.0, p.Complete(context.Background(), steps[1]), 0.001)
	assert.InDelta(t, 100.0, p.Percent(), 0.001)

	assert.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].step)
	assert.InDelta(t, 25.0, calls[0].inc, 0.001)
	assert.InDelta(t, 75.0, calls[1].inc, 0.001)
	assert.InDelta(t, 100.0, calls[1].total, 0.001)
}

func TestProgressTracker_CappedAt100(t *testing.T) {
	steps := []Step{{Name: "a", Weight: 2}}
	p := NewProgressTracker(steps, nil)
	p.Complete(context.Background(), steps[0])
	p.Complete(context.Background(), steps[0])
	assert.InDelta(t, 100.0, p.Percent(), 0.001)
}

func TestProgressTracker_NoWeight(t *testing.T) {
	p := NewProgressTracker(nil, nil)
	assert.Zero(t, p.Complete(context.Background(), Step{Name: "x", Weight: 5}))
}

func TestProgressTracker_HookPanicIsRecovered(t *testing.T) {
	steps := []Step{{Name: "a", Weight: 1}, {Name: "b", Weight: 1}}
	p := NewProgressTracker(steps, func(string, float64, float64) { panic("boom") })

	assert.NotPanics(t, func() {
		p.Complete(context.Background(), steps[0])
		p.Complete(context.Background(), steps[1])
	})
	assert.InDelta(t, 100.0, p.Percent(), 0.001)
}
