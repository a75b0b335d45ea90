package watch

import (
	"strings"
	"time"
)

// Ticker alternates between two glyphs on every clock tick; if it stops
// flipping the program is stuck.
type Ticker struct {
	flipped bool
}

func NewTicker() Ticker { return Ticker{} }

func (t *Ticker) Tick() { t.flipped = !t.flipped }

func (t Ticker) Current() string {
	if t.flipped {
		return "⟳"
	}
	return "⟲"
}

const (
	activityDots = 5
	activityStep = 2 * time.Second
)

// Activity remembers when the last cache change arrived. Its meter starts
// full and loses one dot per activityStep.
type Activity struct {
	last time.Time
}

func (a *Activity) OnEvent(now time.Time) { a.last = now }

func (a Activity) LastEvent() time.Time { return a.last }

// Level is the number of lit dots at now.
func (a Activity) Level(now time.Time) int {
	if a.last.IsZero() {
		return 0
	}
	lit := activityDots - int(now.Sub(a.last)/activityStep)
	return max(0, min(activityDots, lit))
}

func (a Activity) Render(theme Theme, now time.Time) string {
	lit := a.Level(now)
	return theme.TickerActive.Render(strings.Repeat("●", lit)) +
		theme.TickerInactive.Render(strings.Repeat("○", activityDots-lit))
}
