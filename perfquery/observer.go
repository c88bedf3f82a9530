package perfquery

// Result is one resolved measurement.
type Result struct {
	Label  string  `json:"label"`
	Millis float64 `json:"millis"`
}

// ResultFunc receives resolved measurements in start order.
type ResultFunc func(millis float64, label string)

// Observer is notified of manager events. Implementations must not call back
// into the manager.
type Observer interface {
	// Resolved is called once per reported measurement.
	Resolved(label string, millis float64)
	// Dropped is called when Start could not obtain a slot.
	Dropped(label string)
	// InFlight reports the number of undrained measurements after each change.
	InFlight(n int)
	// DeviceLost is called when the device reports loss.
	DeviceLost()
}

type nopObserver struct{}

func (nopObserver) Resolved(string, float64) {}
func (nopObserver) Dropped(string)           {}
func (nopObserver) InFlight(int)             {}
func (nopObserver) DeviceLost()              {}

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) Resolved(label string, millis float64) {
	for _, o := range m {
		o.Resolved(label, millis)
	}
}

func (m multiObserver) Dropped(label string) {
	for _, o := range m {
		o.Dropped(label)
	}
}

func (m multiObserver) InFlight(n int) {
	for _, o := range m {
		o.InFlight(n)
	}
}

func (m multiObserver) DeviceLost() {
	for _, o := range m {
		o.DeviceLost()
	}
}
