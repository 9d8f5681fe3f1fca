package control

import (
	"fmt"
	"log"
	"strings"
)

// LogObserver writes one line per event.
type LogObserver struct {
	log *log.Logger
}

func NewLogObserver(logger *log.Logger) *LogObserver {
	if logger == nil {
		logger = log.Default()
	}
	return &LogObserver{log: logger}
}

func (o *LogObserver) Observe(e Event) {
	o.log.Print(FormatEvent(e))
}

// FormatEvent renders e as a single human-readable line.
func FormatEvent(e Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.State, e.Action)
	switch e.Action {
	case ActionCycle:
		if e.Reading != "" {
			fmt.Fprintf(&b, " %s", e.Reading)
		}
		if e.Tank != "" {
			fmt.Fprintf(&b, " tank=%s cmd=%s", e.Tank, e.Command)
		}
		if e.Written {
			b.WriteString(" (written)")
		}
	case ActionForceOff:
		if e.Written {
			b.WriteString(" pump off")
		} else {
			b.WriteString(" not confirmed")
		}
	}
	link := "down"
	if e.Health.Connected {
		link = "up"
	}
	fmt.Fprintf(&b, " pump=%s link=%s errors=%d", e.Pump, link, e.Health.ConsecutiveErrors)
	if e.Err != "" {
		fmt.Fprintf(&b, " %s error: %s", e.ErrKind, e.Err)
	} else if e.ErrKind != "" {
		fmt.Fprintf(&b, " %s", e.ErrKind)
	}
	if e.Next != e.State {
		fmt.Fprintf(&b, " -> %s", e.Next)
	}
	if e.Wait > 0 {
		fmt.Fprintf(&b, ", next in %v", e.Wait)
	}
	return b.String()
}
