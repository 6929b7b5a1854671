// Package panel implements the map's control panel: legend, dataset
// checkboxes, bikeway length dropdown, return-to-home button and search box.
// Controls act on a service.MapSession; the HTTP layer only translates
// browser signals into these calls.
package panel

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeblew999/plat-bikemap/internal/expr"
	"github.com/joeblew999/plat-bikemap/internal/geocode"
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

// DOM element ids of the page the panel drives.
const (
	IDGeocoder   = "geocoder"
	IDLegend     = "legend"
	IDLegendBar  = "legend-bar"
	IDReturn     = "returnbutton"
	IDParkingBox = "layercheck"
	IDShopsBox   = "layercheck_shops"
	IDLengthList = "list"
	IDParkingKey = "label"
	IDShopsKey   = "label_shops"
	IDMapCanvas  = "map"
)

// Legend toggle labels.
const (
	legendExpand   = "Expand"
	legendCollapse = "Collapse"
)

// LegendRows returns the bikeway legend in category order.
func LegendRows() []style.LegendItem { return style.BikewayLegend() }

// DatasetLabel is the swatch shown next to a dataset checkbox.
type DatasetLabel struct {
	style.LegendItem
	Key      string `json:"key"`
	Checkbox string `json:"checkbox" doc:"Checkbox element id"`
	Mount    string `json:"mount" doc:"Swatch element id"`
}

// DatasetLabels returns the parking and shops swatches.
func DatasetLabels() []DatasetLabel {
	return []DatasetLabel{
		{LegendItem: style.Parking.LegendItem(), Key: style.Parking.Key, Checkbox: IDParkingBox, Mount: IDParkingKey},
		{LegendItem: style.Shops.LegendItem(), Key: style.Shops.Key, Checkbox: IDShopsBox, Mount: IDShopsKey},
	}
}

// LegendView is the state of the legend panel and its toggle button. The
// button label names the action it performs next.
type LegendView struct {
	Expanded bool   `json:"expanded"`
	Label    string `json:"label"`
	Display  string `json:"display" doc:"CSS display of the legend"`
}

// Legend returns the view for an expanded or collapsed legend.
func Legend(expanded bool) LegendView {
	if expanded {
		return LegendView{Expanded: true, Label: legendCollapse, Display: "block"}
	}
	return LegendView{Expanded: false, Label: legendExpand, Display: "none"}
}

// InitialLegend is the legend as the page first shows it.
func InitialLegend() LegendView { return Legend(true) }

// Toggle flips the legend. Toggling twice restores the original view.
func (v LegendView) Toggle() LegendView { return Legend(!v.Expanded) }

// ErrUnknownDataset is returned for a dataset key other than parking or shops.
var ErrUnknownDataset = errors.New("unknown dataset")

// Dataset returns the point dataset with the given key.
func Dataset(key string) (style.Dataset, error) {
	for _, d := range style.Datasets {
		if d.Key == key {
			return d, nil
		}
	}
	return style.Dataset{}, fmt.Errorf("%w: %q", ErrUnknownDataset, key)
}

// SetDataset shows or hides all three layers of a dataset together.
func SetDataset(s *service.MapSession, key string, checked bool) error {
	d, err := Dataset(key)
	if err != nil {
		return err
	}
	return s.SetVisibility(d.Layers(), checked)
}

// DatasetChecked reports whether a dataset's checkbox is checked, that is
// whether its layers are visible.
func DatasetChecked(s *service.MapSession, key string) (bool, error) {
	d, err := Dataset(key)
	if err != nil {
		return false, err
	}
	spec, ok := s.Layer(d.Unclustered)
	if !ok {
		return false, fmt.Errorf("%w: %s", service.ErrLayerNotFound, d.Unclustered)
	}
	return spec.Visibility() == style.Visible, nil
}

// LengthOption is a bikeway length dropdown index.
type LengthOption int

const (
	LengthAll LengthOption = iota
	LengthLong
	LengthShort
)

// LengthThreshold splits long from short bikeways, in meters.
const LengthThreshold = 1000

// LengthChoice is one dropdown entry.
type LengthChoice struct {
	Index LengthOption `json:"index"`
	Label string       `json:"label"`
}

// LengthChoices lists the dropdown entries in index order.
func LengthChoices() []LengthChoice {
	return []LengthChoice{
		{LengthAll, "All Bikeways"},
		{LengthLong, "Length > 1000m"},
		{LengthShort, "Length < 1000m"},
	}
}

// ErrUnknownLength is returned for a dropdown index outside 0..2.
var ErrUnknownLength = errors.New("unknown length option")

// LengthFilter returns the bikeway filter for a dropdown index; nil for all.
func LengthFilter(opt LengthOption) (expr.Expr, error) {
	switch opt {
	case LengthAll:
		return nil, nil
	case LengthLong:
		return expr.Gt(style.PropLength, LengthThreshold), nil
	case LengthShort:
		return expr.Lt(style.PropLength, LengthThreshold), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownLength, opt)
}

// SelectLength applies a dropdown choice to the bikeway layer.
func SelectLength(s *service.MapSession, opt LengthOption) error {
	f, err := LengthFilter(opt)
	if err != nil {
		return err
	}
	return s.SetFilter(style.LayerBike, f)
}

// SelectedLength infers the dropdown index from the bikeway layer filter.
func SelectedLength(s *service.MapSession) LengthOption {
	spec, ok := s.Layer(style.LayerBike)
	if !ok || spec.Filter == nil {
		return LengthAll
	}
	current, err := expr.Marshal(spec.Filter)
	if err != nil {
		return LengthAll
	}
	for _, c := range LengthChoices()[1:] {
		f, _ := LengthFilter(c.Index)
		if b, err := expr.Marshal(f); err == nil && string(b) == string(current) {
			return c.Index
		}
	}
	return LengthAll
}

// Home flies the map back to its initial view.
func Home(s *service.MapSession) service.Camera { return s.ResetView() }

// Geocoder resolves search text to places.
type Geocoder interface {
	Forward(ctx context.Context, query string) ([]geocode.Place, error)
}

// SearchZoom is used for results without a bounding box.
const SearchZoom = 16

// Search geocodes query and flies the session to the best match, fitting its
// bounding box when it has one. The camera is clamped to the map bounds.
func Search(ctx context.Context, s *service.MapSession, g Geocoder, query string) (geocode.Place, service.Camera, error) {
	places, err := g.Forward(ctx, query)
	if err != nil {
		return geocode.Place{}, service.Camera{}, err
	}
	if len(places) == 0 {
		return geocode.Place{}, service.Camera{}, geocode.ErrNoResults
	}
	best := places[0]
	zoom := float64(SearchZoom)
	if best.BBox != nil {
		zoom = service.FitZoom(*best.BBox, s.Screen(), SearchZoom)
	}
	return best, s.FlyTo(best.Center, zoom), nil
}
