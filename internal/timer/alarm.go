package timer

import "sync"

type Signal int

const (
	SignalNone Signal = iota
	SignalWarning
	SignalTimeUp
)

func (s Signal) String() string {
	switch s {
	case SignalWarning:
		return "warning"
	case SignalTimeUp:
		return "time_up"
	default:
		return "none"
	}
}

// Alarm turns the level-triggered IsWarning/IsTimeUp checks into signals
// that fire at most once each until Reset.
type Alarm struct {
	limits Limits

	mu      sync.Mutex
	warned  bool
	expired bool
}

func NewAlarm(limits Limits) *Alarm {
	return &Alarm{limits: limits}
}

// Observe returns the signal newly raised by elapsed. When a single jump
// crosses both thresholds only SignalTimeUp is returned and the warning is
// considered spent.
func (a *Alarm) Observe(elapsed int) Signal {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limits.IsTimeUp(elapsed) {
		if a.expired {
			return SignalNone
		}
		a.expired = true
		a.warned = true
		return SignalTimeUp
	}

	if a.limits.IsWarning(elapsed) && !a.warned {
		a.warned = true
		return SignalWarning
	}
	return SignalNone
}

func (a *Alarm) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warned = false
	a.expired = false
}
