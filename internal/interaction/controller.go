// Package interaction holds the per-map hover, selection and zoom state and
// the transitions that drive it.
package interaction

import (
	"math"
	"sync"

	"go.uber.org/zap"
)

// Default zoom behaviour.
const (
	DefaultHome       = "USA"
	DefaultZoomFactor = 1.5
	DefaultZoomMin    = 1.0
	DefaultZoomMax    = 4.0
)

// Binder connects the controller to identity resolution and joined data.
type Binder interface {
	Resolve(token string) (string, bool)
	HasRecord(iso3 string) bool
}

// Point is a screen coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// State is a snapshot of the interaction slots. Hovered and Selected are
// independent: a country can be selected while another is hovered.
type State struct {
	Hovered  *string `json:"hovered"`
	Selected *string `json:"selected"`
	Zoom     float64 `json:"zoom"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithHome sets the country that cannot be selected.
func WithHome(iso3 string) Option {
	return func(c *Controller) { c.home = iso3 }
}

// WithZoomFactor sets the per-step zoom multiplier.
func WithZoomFactor(f float64) Option {
	return func(c *Controller) {
		if f > 1 {
			c.factor = f
		}
	}
}

// WithZoomBounds sets the zoom clamp range.
func WithZoomBounds(lo, hi float64) Option {
	return func(c *Controller) {
		if lo > 0 && hi >= lo {
			c.min, c.max = lo, hi
		}
	}
}

// WithListener registers a listener for emitted events. Multiple listeners
// are called in registration order.
func WithListener(l Listener) Option {
	return func(c *Controller) {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
}

// Controller is the interaction state machine for one map. It is safe for
// concurrent use; listeners are invoked after the state lock is released.
type Controller struct {
	binder    Binder
	home      string
	factor    float64
	min, max  float64
	listeners []Listener

	mu      sync.Mutex
	state   State
	latched bool
	tooltip bool
}

// New creates a Controller at minimum zoom with nothing hovered or selected.
func New(binder Binder, opts ...Option) *Controller {
	c := &Controller{
		binder: binder,
		home:   DefaultHome,
		factor: DefaultZoomFactor,
		min:    DefaultZoomMin,
		max:    DefaultZoomMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Zoom = c.min
	return c
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Hovered:  clone(c.state.Hovered),
		Selected: clone(c.state.Selected),
		Zoom:     c.state.Zoom,
	}
}

// PointerEnter hovers the feature if it resolves to a country with data.
func (c *Controller) PointerEnter(feature string, at Point) {
	c.emit(c.enter(feature, at, false, false))
}

// PointerLeave clears the hover unless a touch is holding it.
func (c *Controller) PointerLeave() {
	c.mu.Lock()
	if c.latched {
		c.mu.Unlock()
		return
	}
	events := c.leaveLocked()
	c.mu.Unlock()
	c.emit(events)
}

// TouchStart behaves like PointerEnter and latches the hover until
// TouchEnd. On narrow layouts no tooltip is shown.
func (c *Controller) TouchStart(feature string, at Point, narrow bool) {
	c.emit(c.enter(feature, at, true, narrow))
}

// TouchEnd releases the touch latch and clears the hover.
func (c *Controller) TouchEnd() {
	c.mu.Lock()
	c.latched = false
	events := c.leaveLocked()
	c.mu.Unlock()
	c.emit(events)
}

// Click selects the feature's country. Unresolvable features and the home
// country are ignored.
func (c *Controller) Click(feature string) {
	iso3, ok := c.binder.Resolve(feature)
	if !ok {
		zap.L().Debug("interaction: click on unresolved feature", zap.String("feature", feature))
		return
	}
	if iso3 == c.home {
		return
	}

	c.mu.Lock()
	c.state.Selected = &iso3
	c.mu.Unlock()
	c.emit([]Event{
		{Kind: Select, Country: iso3},
		{Kind: DetailOpen, Country: iso3},
	})
}

// Deselect clears the selection.
func (c *Controller) Deselect() {
	c.mu.Lock()
	if c.state.Selected == nil {
		c.mu.Unlock()
		return
	}
	iso3 := *c.state.Selected
	c.state.Selected = nil
	c.mu.Unlock()
	c.emit([]Event{{Kind: DetailClose, Country: iso3}})
}

// ZoomIn multiplies the zoom level by the zoom factor.
func (c *Controller) ZoomIn() { c.zoomTo(func(z float64) float64 { return z * c.factor }) }

// ZoomOut divides the zoom level by the zoom factor.
func (c *Controller) ZoomOut() { c.zoomTo(func(z float64) float64 { return z / c.factor }) }

// ResetZoom returns to the minimum zoom level.
func (c *Controller) ResetZoom() { c.zoomTo(func(float64) float64 { return c.min }) }

func (c *Controller) zoomTo(next func(float64) float64) {
	c.mu.Lock()
	prev := c.state.Zoom
	z := math.Min(c.max, math.Max(c.min, next(prev)))
	c.state.Zoom = z
	c.mu.Unlock()
	if z != prev {
		c.emit([]Event{{Kind: ZoomChange, Zoom: z}})
	}
}

func (c *Controller) enter(feature string, at Point, touch, narrow bool) []Event {
	iso3, ok := c.binder.Resolve(feature)
	if !ok || !c.binder.HasRecord(iso3) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if touch {
		c.latched = true
	}

	var events []Event
	if c.state.Hovered == nil || *c.state.Hovered != iso3 {
		c.state.Hovered = &iso3
		events = append(events, Event{Kind: HoverChange, Country: iso3})
	}
	if narrow {
		if c.tooltip {
			c.tooltip = false
			events = append(events, Event{Kind: TooltipHide})
		}
		return events
	}
	c.tooltip = true
	return append(events, Event{Kind: TooltipShow, Country: iso3, Point: at})
}

func (c *Controller) leaveLocked() []Event {
	var events []Event
	if c.state.Hovered != nil {
		c.state.Hovered = nil
		events = append(events, Event{Kind: HoverChange})
	}
	if c.tooltip {
		c.tooltip = false
		events = append(events, Event{Kind: TooltipHide})
	}
	return events
}

func (c *Controller) emit(events []Event) {
	for _, ev := range events {
		for _, l := range c.listeners {
			l.Handle(ev)
		}
	}
}

func clone(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
