package sink

import "sync"

// Level is the fill state of the alert queue.
type Level int

const (
	// LevelNormal - the worker keeps up.
	LevelNormal Level = iota

	// LevelWarning - the queue is filling, the sink is slower than the classifier.
	LevelWarning

	// LevelCritical - the queue is close to full.
	LevelCritical

	// LevelFull - new alerts are dropped.
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelFull:
		return "full"
	default:
		return "unknown"
	}
}

// Usage ratios at which the queue enters each level.
const (
	warningUsage  = 0.5
	criticalUsage = 0.8
	hysteresis    = 0.1
)

// pressure tracks the queue level with hysteresis on the way down.
type pressure struct {
	mu    sync.Mutex
	level Level

	levelChanges int64
	onChange     func(old, new Level)
}

// update evaluates usage and returns the resulting level.
func (p *pressure) update(usage float64) Level {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.next(usage)
	if next != p.level {
		old := p.level
		p.level = next
		p.levelChanges++
		if p.onChange != nil {
			p.onChange(old, next)
		}
	}
	return next
}

func (p *pressure) next(usage float64) Level {
	raw := levelFor(usage)
	if raw >= p.level {
		return raw
	}

	// Step down only once usage is clear of the entry ratio.
	next := p.level
	for next > raw && usage < entryUsage(next)-hysteresis {
		next--
	}
	return next
}

func levelFor(usage float64) Level {
	switch {
	case usage >= 1:
		return LevelFull
	case usage >= criticalUsage:
		return LevelCritical
	case usage >= warningUsage:
		return LevelWarning
	default:
		return LevelNormal
	}
}

func entryUsage(l Level) float64 {
	switch l {
	case LevelFull:
		return 1
	case LevelCritical:
		return criticalUsage
	case LevelWarning:
		return warningUsage
	default:
		return 0
	}
}

func (p *pressure) current() (Level, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, p.levelChanges
}
