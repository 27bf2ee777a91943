package room

import "time"

// Timings holds every delay a room session uses.
type Timings struct {
	JoinDelay        time.Duration // after the transport connects, before join-room
	SettleDelay      time.Duration // after a successful join, before the refresh requests
	Debounce         time.Duration // quiet period before a local edit is sent
	EchoGuard        time.Duration // how long remote-applied buffer changes are ignored
	ResizeDebounce   time.Duration // quiet period before a terminal resize is sent
	AuthRedirect     time.Duration // gate failure → redirect
	JoinFailRedirect time.Duration // fatal join failure → redirect
	RefreshInterval  time.Duration // minimum spacing of file-created refreshes
}

// DefaultTimings returns the standard delays.
func DefaultTimings() Timings {
	return Timings{
		JoinDelay:        500 * time.Millisecond,
		SettleDelay:      time.Second,
		Debounce:         300 * time.Millisecond,
		EchoGuard:        100 * time.Millisecond,
		ResizeDebounce:   100 * time.Millisecond,
		AuthRedirect:     2 * time.Second,
		JoinFailRedirect: 3 * time.Second,
		RefreshInterval:  250 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultTimings.
func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.JoinDelay, d.JoinDelay)
	fill(&t.SettleDelay, d.SettleDelay)
	fill(&t.Debounce, d.Debounce)
	fill(&t.EchoGuard, d.EchoGuard)
	fill(&t.ResizeDebounce, d.ResizeDebounce)
	fill(&t.AuthRedirect, d.AuthRedirect)
	fill(&t.JoinFailRedirect, d.JoinFailRedirect)
	fill(&t.RefreshInterval, d.RefreshInterval)
	return t
}
