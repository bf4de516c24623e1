package watch

import (
	"strings"
	"time"
)

// Spinner lights up on events and fades over the following ten seconds.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

const spinnerDots = 5

func (s *Spinner) OnEvent(now time.Time) {
	s.dots = spinnerDots
	s.lastEvent = now
}

// Decay drops one dot for every two seconds without events.
func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	lit := spinnerDots - int(now.Sub(s.lastEvent)/(2*time.Second))
	s.dots = max(0, min(s.dots, lit))
}

func (s Spinner) Render(theme Theme) string {
	var b strings.Builder
	for i := range spinnerDots {
		if i < s.dots {
			b.WriteString(theme.Pulse.Render("●"))
		} else {
			b.WriteString(theme.PulseIdle.Render("○"))
		}
	}
	return b.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
