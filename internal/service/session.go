package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-bikemap/internal/cluster"
	"github.com/joeblew999/plat-bikemap/internal/metrics"
	"github.com/joeblew999/plat-bikemap/internal/style"
	"github.com/joeblew999/plat-bikemap/internal/validate"
)

// Change kinds published on the event bus.
const (
	ChangeFilter     = "filter"
	ChangeVisibility = "visibility"
	ChangeViewport   = "viewport"
	ChangeMutation   = "mutation"
	ChangeClosed     = "closed"
)

// SessionConfig is the initial camera and the pan limits.
type SessionConfig struct {
	Home   Viewport
	Bounds orb.Bound
}

// DefaultSessionConfig is the Toronto view.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{Home: HomeViewport, Bounds: TorontoBounds}
}

// SessionOption customises a MapSession.
type SessionOption func(*MapSession)

// WithID sets the session id.
func WithID(id string) SessionOption { return func(s *MapSession) { s.id = id } }

// WithEventBus publishes session changes to bus.
func WithEventBus(bus *EventBus) SessionOption { return func(s *MapSession) { s.bus = bus } }

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) SessionOption { return func(s *MapSession) { s.log = l } }

// WithMetrics records dispatched interactions.
func WithMetrics(m *metrics.Metrics) SessionOption { return func(s *MapSession) { s.metrics = m } }

type loadedSource struct {
	def    SourceDef
	status SourceStatus
	err    error
	fc     *geojson.FeatureCollection
	ids    []FeatureID
	byID   map[FeatureID]int
	// clustered results by integer zoom
	clusters map[int]cluster.Result
}

// SourceInfo describes a registered source.
type SourceInfo struct {
	Name     string        `json:"name"`
	URL      string        `json:"url"`
	Status   SourceStatus  `json:"status"`
	Features int           `json:"features"`
	Options  SourceOptions `json:"options"`
	Error    string        `json:"error,omitempty"`
}

// MapSession is the state of one map instance: viewport, sources, layers,
// feature state, popup, cursor and event handlers. All methods are safe for
// concurrent use; each runs to completion before the next starts.
type MapSession struct {
	mu sync.Mutex

	id       string
	cfg      SessionConfig
	viewport Viewport
	screen   ScreenSize

	sources     map[string]*loadedSource
	sourceOrder []string
	layers      *style.Registry
	states      map[string]map[FeatureID]map[string]any

	handlers map[string]map[EventKind][]Handler
	popup    *Popup
	cursor   string

	fetcher  *SourceService
	bus      *EventBus
	log      *zap.Logger
	metrics  *metrics.Metrics
	lastSeen time.Time
}

// NewMapSession creates a session showing cfg.Home. fetcher loads remote
// sources and may be nil when only LoadCollection is used.
func NewMapSession(cfg SessionConfig, fetcher *SourceService, opts ...SessionOption) *MapSession {
	layers, _ := style.NewRegistry()
	s := &MapSession{
		cfg:      cfg,
		sources:  make(map[string]*loadedSource),
		layers:   layers,
		states:   make(map[string]map[FeatureID]map[string]any),
		handlers: make(map[string]map[EventKind][]Handler),
		fetcher:  fetcher,
		lastSeen: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.viewport = ClampViewport(cfg.Home, cfg.Bounds, s.screen)
	return s
}

// ID returns the session id.
func (s *MapSession) ID() string { return s.id }

func (s *MapSession) publish(kind string, payload any) {
	s.bus.Publish(Change{Session: s.id, Kind: kind, Payload: payload})
}

// LoadSource fetches def.URL and registers it under def.Name. When the fetch
// fails the source is still registered, empty and marked failed, so layers
// can be added and render nothing; the *DataFetchError is returned.
func (s *MapSession) LoadSource(ctx context.Context, def SourceDef) error {
	if err := s.checkSource(def); err != nil {
		return err
	}
	if s.fetcher == nil {
		return &ConfigurationError{Source: def.Name, Reason: "no source fetcher configured"}
	}

	fc, err := s.fetcher.Fetch(ctx, def.Name, def.URL)
	if err != nil {
		s.log.Warn("source unavailable, rendering empty",
			zap.String("session", s.id),
			zap.String("source", def.Name),
			zap.Error(err))
		s.register(def, geojson.NewFeatureCollection(), err)
		return err
	}
	s.register(def, fc, nil)
	return nil
}

// InlinePrefix marks the URL of a source loaded with LoadCollection
// without one.
const InlinePrefix = "inline:"

// LoadCollection registers an already parsed collection under def.Name.
// def.URL may be empty.
func (s *MapSession) LoadCollection(def SourceDef, fc *geojson.FeatureCollection) error {
	if def.URL == "" {
		def.URL = InlinePrefix + def.Name
	}
	if err := s.checkSource(def); err != nil {
		return err
	}
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	s.register(def, fc, nil)
	return nil
}

func (s *MapSession) checkSource(def SourceDef) error {
	if err := validate.Struct(def); err != nil {
		return &ConfigurationError{Source: def.Name, Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[def.Name]; exists {
		return &ConfigurationError{Source: def.Name, Reason: "source already registered"}
	}
	return nil
}

func (s *MapSession) register(def SourceDef, fc *geojson.FeatureCollection, err error) {
	def.Options = def.Options.withDefaults()
	src := &loadedSource{
		def:      def,
		status:   SourceReady,
		err:      err,
		fc:       fc,
		ids:      assignIDs(fc, def.Options.GenerateID),
		clusters: make(map[int]cluster.Result),
	}
	src.byID = make(map[FeatureID]int, len(src.ids))
	for i, id := range src.ids {
		src.byID[id] = i
	}
	if err != nil {
		src.status = SourceFailed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[def.Name]; !exists {
		s.sourceOrder = append(s.sourceOrder, def.Name)
	}
	s.sources[def.Name] = src
}

// assignIDs returns each feature's numeric id. Index ids are used for the
// whole collection when generate is set or any id is missing, non-numeric or
// repeated.
func assignIDs(fc *geojson.FeatureCollection, generate bool) []FeatureID {
	ids := make([]FeatureID, len(fc.Features))
	if !generate {
		seen := make(map[FeatureID]struct{}, len(ids))
		for i, f := range fc.Features {
			id, ok := numericID(f.ID)
			if _, dup := seen[id]; !ok || dup {
				generate = true
				break
			}
			seen[id] = struct{}{}
			ids[i] = id
		}
	}
	if generate {
		for i := range ids {
			ids[i] = FeatureID(i)
		}
	}
	return ids
}

func numericID(v any) (FeatureID, bool) {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return FeatureID(n), true
		}
	case int:
		return FeatureID(n), true
	case int64:
		return FeatureID(n), true
	}
	return 0, false
}

// Source describes a registered source.
func (s *MapSession) Source(name string) (SourceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[name]
	if !ok {
		return SourceInfo{}, false
	}
	return src.info(), true
}

// Sources describes every registered source in load order.
func (s *MapSession) Sources() []SourceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SourceInfo, 0, len(s.sourceOrder))
	for _, name := range s.sourceOrder {
		out = append(out, s.sources[name].info())
	}
	return out
}

func (src *loadedSource) info() SourceInfo {
	info := SourceInfo{
		Name:     src.def.Name,
		URL:      src.def.URL,
		Status:   src.status,
		Features: len(src.fc.Features),
		Options:  src.def.Options,
	}
	if src.err != nil {
		info.Error = src.err.Error()
	}
	return info
}

// Collection returns the loaded collection of a source with the assigned
// feature ids applied. The result is a copy.
func (s *MapSession) Collection(name string) (*geojson.FeatureCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	out := geojson.NewFeatureCollection()
	for i, f := range src.fc.Features {
		cp := *f
		cp.ID = int64(src.ids[i])
		out.Append(&cp)
	}
	return out, nil
}

// Viewport returns the current camera.
func (s *MapSession) Viewport() Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// Bounds returns the pan limits.
func (s *MapSession) Bounds() orb.Bound { return s.cfg.Bounds }

// SetScreenSize records the canvas size and re-clamps the viewport.
func (s *MapSession) SetScreenSize(size ScreenSize) Viewport {
	s.mu.Lock()
	s.screen = size
	s.viewport = ClampViewport(s.viewport, s.cfg.Bounds, size)
	v := s.viewport
	s.mu.Unlock()
	s.publish(ChangeViewport, v)
	return v
}

// Screen returns the recorded canvas size.
func (s *MapSession) Screen() ScreenSize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// JumpTo moves the camera without animation. The result is clamped.
func (s *MapSession) JumpTo(v Viewport) Viewport {
	s.mu.Lock()
	s.viewport = ClampViewport(v, s.cfg.Bounds, s.screen)
	v = s.viewport
	s.mu.Unlock()
	s.publish(ChangeViewport, v)
	return v
}

// FlyTo animates to center at zoom, keeping the bearing.
func (s *MapSession) FlyTo(center orb.Point, zoom float64) Camera {
	s.mu.Lock()
	s.viewport = ClampViewport(Viewport{Center: center, Zoom: zoom, Bearing: s.viewport.Bearing}, s.cfg.Bounds, s.screen)
	cam := Camera{Viewport: s.viewport, Essential: true}
	s.mu.Unlock()
	s.publish(ChangeViewport, cam)
	return cam
}

// ResetView restores the initial camera and returns the fly-to command.
func (s *MapSession) ResetView() Camera {
	s.mu.Lock()
	s.viewport = ClampViewport(s.cfg.Home, s.cfg.Bounds, s.screen)
	cam := Camera{Viewport: s.viewport, Essential: true}
	s.mu.Unlock()
	s.publish(ChangeViewport, cam)
	return cam
}

// FeatureState returns a copy of a feature's state flags.
func (s *MapSession) FeatureState(source string, id FeatureID) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.states[source][id])
}

// FeatureStates returns every feature's flags, by source load order and
// then by id.
func (s *MapSession) FeatureStates() []FeatureStateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FeatureStateChange
	for _, source := range s.sourceOrder {
		bySource := s.states[source]
		ids := slices.Sorted(maps.Keys(bySource))
		for _, id := range ids {
			out = append(out, FeatureStateChange{Source: source, ID: id, State: maps.Clone(bySource[id])})
		}
	}
	return out
}

// SetFeatureState merges state into a feature's flags.
func (s *MapSession) SetFeatureState(source string, id FeatureID, state map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[source]; !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}
	s.setState(source, id, state)
	return nil
}

func (s *MapSession) setState(source string, id FeatureID, state map[string]any) {
	bySource := s.states[source]
	if bySource == nil {
		bySource = make(map[FeatureID]map[string]any)
		s.states[source] = bySource
	}
	flags := bySource[id]
	if flags == nil {
		flags = make(map[string]any, len(state))
		bySource[id] = flags
	}
	maps.Copy(flags, state)
}

// OnPointerEnter subscribes h to pointer-enter events on a layer.
func (s *MapSession) OnPointerEnter(layer string, h Handler) error {
	return s.on(PointerEnter, layer, h)
}

// OnPointerMove subscribes h to pointer-move events on a layer.
func (s *MapSession) OnPointerMove(layer string, h Handler) error {
	return s.on(PointerMove, layer, h)
}

// OnPointerLeave subscribes h to pointer-leave events on a layer.
func (s *MapSession) OnPointerLeave(layer string, h Handler) error {
	return s.on(PointerLeave, layer, h)
}

// OnClick subscribes h to clicks on a layer.
func (s *MapSession) OnClick(layer string, h Handler) error {
	return s.on(Click, layer, h)
}

func (s *MapSession) on(kind EventKind, layer string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.layers.Has(layer) {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, layer)
	}
	byKind := s.handlers[layer]
	if byKind == nil {
		byKind = make(map[EventKind][]Handler)
		s.handlers[layer] = byKind
	}
	byKind[kind] = append(byKind[kind], h)
	return nil
}

// Dispatch runs the handlers subscribed to ev and applies their combined
// mutation. Events on hidden layers are ignored, as a renderer never reports
// features it does not draw.
func (s *MapSession) Dispatch(ev PointerEvent) (Mutation, error) {
	s.mu.Lock()
	spec, ok := s.layers.Get(ev.Layer)
	if !ok {
		s.mu.Unlock()
		return Mutation{}, fmt.Errorf("%w: %s", ErrLayerNotFound, ev.Layer)
	}
	if spec.Visibility() == style.Hidden && ev.Kind != PointerLeave {
		s.mu.Unlock()
		return Mutation{}, nil
	}

	if src, ok := s.sources[spec.Source]; ok {
		ev.Features = src.resolve(ev.Features)
	}

	var m Mutation
	for _, h := range s.handlers[ev.Layer][ev.Kind] {
		m.Merge(h(ev))
	}
	s.apply(m)
	s.mu.Unlock()

	s.metrics.IncInteraction(string(ev.Kind), ev.Layer)
	if !m.Empty() {
		s.log.Debug("interaction",
			zap.String("session", s.id),
			zap.String("kind", string(ev.Kind)),
			zap.String("layer", ev.Layer),
			zap.Int("states", len(m.States)),
			zap.Bool("popup", m.Popup != nil))
		s.publish(ChangeMutation, m)
	}
	return m, nil
}

// resolve fills in the properties of referenced features that arrived
// without them.
func (src *loadedSource) resolve(refs []FeatureRef) []FeatureRef {
	out := make([]FeatureRef, len(refs))
	for i, r := range refs {
		if r.Properties == nil {
			if idx, ok := src.byID[r.ID]; ok {
				r.Properties = src.fc.Features[idx].Properties
			}
		}
		out[i] = r
	}
	return out
}

func (s *MapSession) apply(m Mutation) {
	for _, c := range m.States {
		s.setState(c.Source, c.ID, c.State)
	}
	if m.ClosePopup {
		s.popup = nil
	}
	if m.Popup != nil {
		p := *m.Popup
		s.popup = &p
	}
	if m.Cursor != nil {
		s.cursor = *m.Cursor
	}
}

// Popup returns the open popup, or nil.
func (s *MapSession) Popup() *Popup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popup == nil {
		return nil
	}
	p := *s.popup
	return &p
}

// ClosePopup removes the open popup. It reports whether one was open.
func (s *MapSession) ClosePopup() bool {
	s.mu.Lock()
	open := s.popup != nil
	s.popup = nil
	s.mu.Unlock()
	if open {
		s.publish(ChangeMutation, Mutation{ClosePopup: true})
	}
	return open
}

// Cursor returns the map canvas cursor; empty is the default.
func (s *MapSession) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Touch records activity for idle expiry.
func (s *MapSession) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns the time of the last recorded activity.
func (s *MapSession) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close announces the end of the session to subscribers.
func (s *MapSession) Close() {
	s.publish(ChangeClosed, nil)
}
