// Package lifecycle holds the draining flag shared between the HTTP
// layer and the shutdown path.
package lifecycle

import "sync/atomic"

// Lifecycle flags whether the agent has begun graceful shutdown. Once
// draining, readiness reports 503 and new interview sessions are
// refused while in-flight sessions run to completion.
//
// A nil *Lifecycle never drains.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
