package style

import (
	"slices"

	"github.com/joeblew999/plat-bikemap/internal/expr"
)

// Source names.
const (
	SourceBikeways = "bikeways"
	SourceParking  = "bike_parking"
	SourceShops    = "bike_shops"
)

// Layer ids.
const (
	LayerBike               = "bike"
	LayerParkingClustered   = "bike_parking_clustered"
	LayerParkingCount       = "cluster-count"
	LayerParkingUnclustered = "bike_parking_unclustered"
	LayerShopsClustered     = "bike_shops_clustered"
	LayerShopsCount         = "cluster-count_shops"
	LayerShopsUnclustered   = "bike_shops_unclustered"
)

// Feature property names used by styles and popups.
const (
	PropInfraType     = "INFRA_HIGHORDER"
	PropStreetName    = "STREET_NAME"
	PropInstalled     = "INSTALLED"
	PropLength        = "Shape__Length"
	PropAddress       = "ADDRESS_FULL"
	PropCapacity      = "BICYCLE_CAPACITY"
	PropName          = "NAME"
	PropPhone         = "PHONE"
	PropEmail         = "EMAIL"
	PropRental        = "RENTAL"
	PropPointCount    = "point_count"
	PropPointCountAbv = "point_count_abbreviated"
)

// HoverState is the feature-state key driving line highlighting.
const HoverState = "hover"

// DefaultLineColor is used when no bikeway category matches.
const DefaultLineColor = "black"

// Category is a bikeway infrastructure category.
type Category struct {
	Match string // substring looked up in INFRA_HIGHORDER
	Label string // legend label
	Color string
}

// Categories in match order. The first category contained in a feature's
// infrastructure type decides its color.
var Categories = []Category{
	{Match: "Bike Lane", Label: "Bike Lanes", Color: "red"},
	{Match: "Cycle Track", Label: "Cycle Tracks", Color: "green"},
	{Match: "Multi-Use Trail", Label: "Multi-Use Trails", Color: "blue"},
	{Match: "Sharrows", Label: "Sharrows", Color: "orange"},
	{Match: "Park Road", Label: "Park Roads", Color: "#5C4033"},
	{Match: "Signed Route", Label: "Signed Routes", Color: "purple"},
}

// LegendItem is one row of a map legend.
type LegendItem struct {
	Label string `json:"label" doc:"Legend label"`
	Color string `json:"color" doc:"Legend color (CSS)"`
}

// BikewayLegend returns one legend row per category, in match order.
func BikewayLegend() []LegendItem {
	items := make([]LegendItem, len(Categories))
	for i, c := range Categories {
		items[i] = LegendItem{Label: c.Label, Color: c.Color}
	}
	return items
}

// LineColor is the bikeway color expression.
func LineColor() expr.Expr {
	branches := make([]expr.Branch, len(Categories))
	for i, c := range Categories {
		branches[i] = expr.When(
			expr.In(expr.Literal(c.Match), expr.Get(PropInfraType)),
			expr.Literal(c.Color),
		)
	}
	return expr.Case(expr.Literal(DefaultLineColor), branches...)
}

// LineOpacity highlights the hovered feature.
func LineOpacity() expr.Expr {
	return expr.Case(expr.Literal(0.5),
		expr.When(expr.Boolean(expr.State(HoverState), false), expr.Literal(1.0)),
	)
}

// ClusterRadius sizes cluster circles by point count.
func ClusterRadius() expr.Expr {
	return expr.Step(expr.Get(PropPointCount), expr.Literal(10.0),
		expr.At(10, expr.Literal(15.0)),
		expr.At(20, expr.Literal(17.0)),
		expr.At(50, expr.Literal(20.0)),
		expr.At(100, expr.Literal(25.0)),
	)
}

// ClusteredFilter selects aggregate nodes.
func ClusteredFilter() expr.Expr { return expr.Has(PropPointCount) }

// UnclusteredFilter selects individual points.
func UnclusteredFilter() expr.Expr { return expr.Not(expr.Has(PropPointCount)) }

// Dataset is a clustered point dataset and its trio of layers.
type Dataset struct {
	Key         string // "parking" or "shops"
	Label       string
	Color       string
	Source      string
	Clustered   string
	Count       string
	Unclustered string
}

// Point datasets.
var (
	Parking = Dataset{
		Key:         "parking",
		Label:       "Bike Parking",
		Color:       "#11b4da",
		Source:      SourceParking,
		Clustered:   LayerParkingClustered,
		Count:       LayerParkingCount,
		Unclustered: LayerParkingUnclustered,
	}
	Shops = Dataset{
		Key:         "shops",
		Label:       "Bike Shops",
		Color:       "#FFB6C1",
		Source:      SourceShops,
		Clustered:   LayerShopsClustered,
		Count:       LayerShopsCount,
		Unclustered: LayerShopsUnclustered,
	}
)

// Datasets lists the point datasets in panel order.
var Datasets = []Dataset{Parking, Shops}

// Layers returns the dataset's layer ids.
func (d Dataset) Layers() []string {
	return []string{d.Clustered, d.Count, d.Unclustered}
}

// DatasetLayers widens ids so that any layer of a dataset brings its whole
// trio along. Order is kept and duplicates are dropped.
func DatasetLayers(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range ids {
		d, ok := DatasetOf(id)
		if !ok {
			add(id)
			continue
		}
		for _, l := range d.Layers() {
			add(l)
		}
	}
	return out
}

// DatasetOf returns the dataset a layer belongs to.
func DatasetOf(layer string) (Dataset, bool) {
	for _, d := range Datasets {
		if slices.Contains(d.Layers(), layer) {
			return d, true
		}
	}
	return Dataset{}, false
}

// LegendItem returns the dataset's swatch row.
func (d Dataset) LegendItem() LegendItem {
	return LegendItem{Label: d.Label, Color: d.Color}
}

// Specs returns the clustered circle, count label and unclustered circle
// layers for the dataset.
func (d Dataset) Specs() []LayerSpec {
	return []LayerSpec{
		{
			ID:     d.Clustered,
			Type:   CircleLayer,
			Source: d.Source,
			Filter: ClusteredFilter(),
			Paint: Properties{
				"circle-color":  expr.Literal(d.Color),
				"circle-radius": ClusterRadius(),
			},
		},
		{
			ID:     d.Count,
			Type:   SymbolLayer,
			Source: d.Source,
			Filter: ClusteredFilter(),
			Layout: Properties{
				"text-field":            expr.Get(PropPointCountAbv),
				"text-font":             expr.Literal([]any{"DIN Offc Pro Medium", "Arial Unicode MS Bold"}),
				"text-size":             expr.Literal(12.0),
				"text-allow-overlap":    expr.Literal(true),
				"text-ignore-placement": expr.Literal(true),
			},
		},
		{
			ID:     d.Unclustered,
			Type:   CircleLayer,
			Source: d.Source,
			Filter: UnclusteredFilter(),
			Paint: Properties{
				"circle-color":        expr.Literal(d.Color),
				"circle-radius":       expr.Literal(5.0),
				"circle-stroke-width": expr.Literal(1.0),
				"circle-stroke-color": expr.Literal("#fff"),
			},
		},
	}
}

// BikeSpec is the bikeway line layer.
func BikeSpec() LayerSpec {
	return LayerSpec{
		ID:     LayerBike,
		Type:   LineLayer,
		Source: SourceBikeways,
		Paint: Properties{
			"line-width":   expr.Literal(3.0),
			"line-color":   LineColor(),
			"line-opacity": LineOpacity(),
		},
	}
}

// DefaultSpecs returns every layer of the bike map in draw order.
func DefaultSpecs() []LayerSpec {
	specs := []LayerSpec{BikeSpec()}
	for _, d := range Datasets {
		specs = append(specs, d.Specs()...)
	}
	return specs
}
