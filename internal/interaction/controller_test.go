package interaction

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBinder struct {
	aliases map[string]string
	records map[string]bool
}

func (b fakeBinder) Resolve(token string) (string, bool) {
	iso3, ok := b.aliases[token]
	return iso3, ok
}

func (b fakeBinder) HasRecord(iso3 string) bool { return b.records[iso3] }

func newBinder() fakeBinder {
	return fakeBinder{
		aliases: map[string]string{
			"DEU": "DEU", "Germany": "DEU", "276": "DEU",
			"FRA": "FRA",
			"USA": "USA",
			"ATA": "ATA",
		},
		records: map[string]bool{"DEU": true, "FRA": true, "USA": true},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func newController(opts ...Option) (*Controller, *recorder) {
	rec := &recorder{}
	c := New(newBinder(), append([]Option{WithListener(rec)}, opts...)...)
	return c, rec
}

func TestController_InitialState(t *testing.T) {
	c, _ := newController()
	st := c.State()
	assert.Nil(t, st.Hovered)
	assert.Nil(t, st.Selected)
	assert.Equal(t, 1.0, st.Zoom)
}

func TestController_HoverShowsTooltip(t *testing.T) {
	c, rec := newController()
	c.PointerEnter("Germany", Point{X: 10, Y: 20})

	require.NotNil(t, c.State().Hovered)
	assert.Equal(t, "DEU", *c.State().Hovered)
	require.Len(t, rec.events, 2)
	assert.Equal(t, Event{Kind: HoverChange, Country: "DEU"}, rec.events[0])
	assert.Equal(t, Event{Kind: TooltipShow, Country: "DEU", Point: Point{X: 10, Y: 20}}, rec.events[1])

	rec.reset()
	c.PointerLeave()
	assert.Nil(t, c.State().Hovered)
	assert.Equal(t, []Kind{HoverChange, TooltipHide}, rec.kinds())
}

func TestController_HoverWithoutDataIsNoop(t *testing.T) {
	tests := []struct {
		name    string
		feature string
	}{
		{"unresolvable", "Atlantis"},
		{"no joined record", "ATA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newController()
			c.PointerEnter(tt.feature, Point{})
			assert.Nil(t, c.State().Hovered)
			assert.Empty(t, rec.events)
		})
	}
}

func TestController_ClickSelects(t *testing.T) {
	c, rec := newController()
	c.Click("276")

	require.NotNil(t, c.State().Selected)
	assert.Equal(t, "DEU", *c.State().Selected)
	assert.Equal(t, []Kind{Select, DetailOpen}, rec.kinds())

	rec.reset()
	c.Deselect()
	assert.Nil(t, c.State().Selected)
	assert.Equal(t, []Kind{DetailClose}, rec.kinds())

	rec.reset()
	c.Deselect()
	assert.Empty(t, rec.events)
}

func TestController_HomeCountryIsNoop(t *testing.T) {
	c, rec := newController()
	c.Click("USA")
	assert.Nil(t, c.State().Selected)
	assert.Empty(t, rec.events)

	c2, rec2 := newController(WithHome("FRA"))
	c2.Click("FRA")
	assert.Nil(t, c2.State().Selected)
	assert.Empty(t, rec2.events)
	c2.Click("USA")
	assert.Equal(t, "USA", *c2.State().Selected)
}

func TestController_ClickUnresolvedIsNoop(t *testing.T) {
	c, rec := newController()
	c.Click("Atlantis")
	assert.Nil(t, c.State().Selected)
	assert.Empty(t, rec.events)
}

func TestController_HoverAndSelectAreOrthogonal(t *testing.T) {
	c, _ := newController()
	c.Click("DEU")
	c.PointerEnter("FRA", Point{})

	st := c.State()
	assert.Equal(t, "DEU", *st.Selected)
	assert.Equal(t, "FRA", *st.Hovered)

	c.PointerLeave()
	st = c.State()
	assert.Nil(t, st.Hovered)
	assert.Equal(t, "DEU", *st.Selected)
}

func TestController_ZoomClamps(t *testing.T) {
	c, rec := newController()

	for range 10 {
		c.ZoomIn()
	}
	assert.Equal(t, 4.0, c.State().Zoom)
	// 1.5, 2.25, 3.375, 4; further steps are no-ops.
	assert.Len(t, rec.events, 4)
	assert.Equal(t, 1.5, rec.events[0].Zoom)
	assert.Equal(t, 4.0, rec.events[3].Zoom)

	rec.reset()
	for range 10 {
		c.ZoomOut()
	}
	assert.Equal(t, 1.0, c.State().Zoom)
	for _, ev := range rec.events {
		assert.GreaterOrEqual(t, ev.Zoom, 1.0)
		assert.LessOrEqual(t, ev.Zoom, 4.0)
	}

	rec.reset()
	c.ResetZoom()
	assert.Empty(t, rec.events)
}

func TestController_CustomZoom(t *testing.T) {
	c, _ := newController(WithZoomFactor(2), WithZoomBounds(1, 8))
	c.ZoomIn()
	c.ZoomIn()
	c.ZoomIn()
	assert.Equal(t, 8.0, c.State().Zoom)
	c.ResetZoom()
	assert.Equal(t, 1.0, c.State().Zoom)
}

func TestController_TouchLatch(t *testing.T) {
	c, rec := newController()
	c.TouchStart("DEU", Point{X: 1, Y: 1}, false)
	assert.Equal(t, []Kind{HoverChange, TooltipShow}, rec.kinds())

	// A synthetic pointer leave during the touch does not clear the hover.
	rec.reset()
	c.PointerLeave()
	assert.Equal(t, "DEU", *c.State().Hovered)
	assert.Empty(t, rec.events)

	c.TouchEnd()
	assert.Nil(t, c.State().Hovered)
	assert.Equal(t, []Kind{HoverChange, TooltipHide}, rec.kinds())
}

func TestController_NarrowTouchSuppressesTooltip(t *testing.T) {
	c, rec := newController()
	c.TouchStart("DEU", Point{}, true)

	assert.Equal(t, "DEU", *c.State().Hovered)
	assert.Equal(t, []Kind{HoverChange}, rec.kinds())

	rec.reset()
	c.TouchEnd()
	assert.Equal(t, []Kind{HoverChange}, rec.kinds())
}

func TestHooks(t *testing.T) {
	var hovered []string
	var selected string
	var zoom float64
	c := New(newBinder(), WithListener(Hooks{
		OnHoverChange: func(iso3 string) { hovered = append(hovered, iso3) },
		OnSelect:      func(iso3 string) { selected = iso3 },
		OnZoomChange:  func(level float64) { zoom = level },
	}))

	c.PointerEnter("DEU", Point{})
	c.PointerLeave()
	c.Click("FRA")
	c.ZoomIn()

	assert.Equal(t, []string{"DEU", ""}, hovered)
	assert.Equal(t, "FRA", selected)
	assert.Equal(t, 1.5, zoom)
}

func TestController_ListenerMayReenter(t *testing.T) {
	var c *Controller
	var seen State
	c = New(newBinder(), WithListener(ListenerFunc(func(ev Event) {
		if ev.Kind == Select {
			seen = c.State()
		}
	})))
	c.Click("DEU")
	assert.Equal(t, "DEU", *seen.Selected)
}

func TestController_ConcurrentUse(t *testing.T) {
	c, _ := newController()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if i%2 == 0 {
					c.ZoomIn()
					c.PointerEnter("DEU", Point{})
				} else {
					c.ZoomOut()
					c.PointerLeave()
				}
				_ = c.State()
			}
		}()
	}
	wg.Wait()
	z := c.State().Zoom
	assert.GreaterOrEqual(t, z, 1.0)
	assert.LessOrEqual(t, z, 4.0)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "zoom_change", ZoomChange.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
