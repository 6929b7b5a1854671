package viewer

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-bikemap/internal/humastar"
	"github.com/joeblew999/plat-bikemap/internal/panel"
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

// DefaultBaseStyle is the Mapbox basemap under the bike layers.
const DefaultBaseStyle = "mapbox://styles/mapbox/streets-v12"

// PageConfig configures the map page.
type PageConfig struct {
	Title       string
	MapboxToken string
	BaseStyle   string
	Interactive []string        // layers that report pointer events
	Links       func() []string // entry point Link headers
}

// Routes are the URLs the page calls for one session.
type Routes struct {
	Session      string // REST base
	Panel        string
	LegendToggle string
	Dataset      string // + "/" + key
	Length       string
	Home         string
	Search       string
	Events       string
}

// PageData holds everything the page template needs, so the HTML never
// hardcodes URLs or signal names.
type PageData struct {
	Title       string
	Signals     string // data-signals JSON
	Routes      Routes
	Legend      panel.LegendView
	Rows        []style.LegendItem
	Parking     panel.DatasetLabel
	Shops       panel.DatasetLabel
	Lengths     []humastar.SelectOptionData
	MapboxToken string
	BaseStyle   string
	Interactive []string
}

// SessionRoutes returns the routes of session id.
func SessionRoutes(id string) Routes {
	base := strings.Replace(Base, "{id}", id, 1)
	return Routes{
		Session:      "/api/v1/sessions/" + id,
		Panel:        base + "/panel",
		LegendToggle: base + "/legend/toggle",
		Dataset:      base + "/datasets",
		Length:       base + "/length",
		Home:         base + "/home",
		Search:       base + "/search",
		Events:       base + "/events",
	}
}

// BuildPageData assembles the page for a session.
func BuildPageData(s *service.MapSession, cfg PageConfig) (PageData, error) {
	legend := panel.InitialLegend()
	signals := panelSignals(s)
	signals[SignalLegendOpen] = legend.Expanded
	signals[SignalLegendLabel] = legend.Label
	signals[SignalQuery] = ""
	signals[SignalStatus] = ""
	signals[SignalError] = ""
	b, err := json.Marshal(signals)
	if err != nil {
		return PageData{}, err
	}

	pd := PageData{
		Title:       cfg.Title,
		Signals:     string(b),
		Routes:      SessionRoutes(s.ID()),
		Legend:      legend,
		Rows:        panel.LegendRows(),
		Lengths:     lengthOptions(),
		MapboxToken: cfg.MapboxToken,
		BaseStyle:   cfg.BaseStyle,
		Interactive: cfg.Interactive,
	}
	if pd.Title == "" {
		pd.Title = "Toronto Cycling Map"
	}
	if pd.BaseStyle == "" {
		pd.BaseStyle = DefaultBaseStyle
	}
	for _, d := range panel.DatasetLabels() {
		switch d.Key {
		case style.Parking.Key:
			pd.Parking = d
		case style.Shops.Key:
			pd.Shops = d
		}
	}
	return pd, nil
}

// Page serves the map page, creating a fresh session for each load.
func (h *Handler) Page(cfg PageConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		s, err := h.sessions.Create(r.Context())
		if err != nil {
			h.log.Error("create session", zap.Error(err))
			http.Error(w, "could not prepare the map", http.StatusInternalServerError)
			return
		}
		pd, err := BuildPageData(s, cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		html, err := h.Renderer.Render("page", pd)
		if err != nil {
			h.log.Error("render page", zap.String("session", s.ID()), zap.Error(err))
			http.Error(w, "could not render the map", http.StatusInternalServerError)
			return
		}
		if cfg.Links != nil {
			for _, l := range cfg.Links() {
				w.Header().Add("Link", l)
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Session-Id", s.ID())
		w.Header().Set("Content-Length", strconv.Itoa(len(html)))
		_, _ = w.Write([]byte(html))
	}
}
