package interaction

// Kind identifies an emitted event.
type Kind int

// Event kinds.
const (
	HoverChange Kind = iota
	TooltipShow
	TooltipHide
	Select
	DetailOpen
	DetailClose
	ZoomChange
)

var kindNames = [...]string{
	HoverChange: "hover_change",
	TooltipShow: "tooltip_show",
	TooltipHide: "tooltip_hide",
	Select:      "select",
	DetailOpen:  "detail_open",
	DetailClose: "detail_close",
	ZoomChange:  "zoom_change",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is one state change. Country is empty for a HoverChange that
// clears the hover.
type Event struct {
	Kind    Kind    `json:"kind"`
	Country string  `json:"country,omitempty"`
	Point   Point   `json:"point"`
	Zoom    float64 `json:"zoom,omitempty"`
}

// Listener receives events.
type Listener interface {
	Handle(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// Handle calls f(ev).
func (f ListenerFunc) Handle(ev Event) { f(ev) }

// Hooks fans events out to the three render-facing callbacks. Nil hooks
// are skipped. OnHoverChange receives "" when the hover is cleared.
type Hooks struct {
	OnHoverChange func(iso3 string)
	OnSelect      func(iso3 string)
	OnZoomChange  func(level float64)
}

// Handle implements Listener.
func (h Hooks) Handle(ev Event) {
	switch ev.Kind {
	case HoverChange:
		if h.OnHoverChange != nil {
			h.OnHoverChange(ev.Country)
		}
	case Select:
		if h.OnSelect != nil {
			h.OnSelect(ev.Country)
		}
	case ZoomChange:
		if h.OnZoomChange != nil {
			h.OnZoomChange(ev.Zoom)
		}
	}
}
