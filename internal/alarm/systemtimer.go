package alarm

import "time"

// SystemTimer arms in-process wake-ups with time.AfterFunc. It never denies
// the exact capability; the inexact path exists for hosts that do.
type SystemTimer struct {
	clock Clock
}

func NewSystemTimer(clock Clock) *SystemTimer {
	return &SystemTimer{clock: clock}
}

func (s *SystemTimer) ScheduleExact(at time.Time, fire func()) (TimerHandle, error) {
	return s.arm(at, fire)
}

func (s *SystemTimer) ScheduleInexact(at time.Time, fire func()) (TimerHandle, error) {
	return s.arm(at, fire)
}

func (s *SystemTimer) arm(at time.Time, fire func()) (TimerHandle, error) {
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	return systemTimerHandle{t: time.AfterFunc(d, fire)}, nil
}

type systemTimerHandle struct {
	t *time.Timer
}

func (h systemTimerHandle) Stop() { h.t.Stop() }
