package provisionapp

import (
	"context"
	"sync"

	"github.com/erp/provisioner/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// ProgressHook receives the percentage a finished step added and the new total
type ProgressHook func(step string, increment, total float64)

// ProgressTracker turns finished steps into a percentage by weight
type ProgressTracker struct {
	mu          sync.Mutex
	totalWeight int
	percent     float64
	hook        ProgressHook
}

// NewProgressTracker creates a tracker over steps. hook may be nil.
func NewProgressTracker(steps []Step, hook ProgressHook) *ProgressTracker {
	total := 0
	for _, s := range steps {
		total += s.Weight
	}
	return &ProgressTracker{totalWeight: total, hook: hook}
}

// Complete adds weight/total*100 for step and notifies the hook. A panicking
// hook is recovered and logged.
func (p *ProgressTracker) Complete(ctx context.Context, step Step) float64 {
	p.mu.Lock()
	var inc float64
	if p.totalWeight > 0 {
		inc = float64(step.Weight) / float64(p.totalWeight) * 100
	}
	p.percent += inc
	if p.percent > 100 {
		p.percent = 100
	}
	total := p.percent
	hook := p.hook
	p.mu.Unlock()

	if hook != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.L(ctx).Error("progress hook panicked", zap.String("step", step.Name), zap.Any("panic", r))
				}
			}()
			hook(step.Name, inc, total)
		}()
	}
	return total
}

// Percent returns the progress so far
func (p *ProgressTracker) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}
