package interact

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

// ErrAttributeMissing marks a popup field whose property is absent on the
// clicked feature. The field is shown with an empty value.
var ErrAttributeMissing = errors.New("attribute missing")

// Field is one line of a popup template.
type Field struct {
	Label    string
	Property string
	Format   func(any) string // nil uses FormatValue
}

// Template describes the popup shown for features of one dataset.
type Template struct {
	Fields []Field
	Link   service.PopupLink
}

// Build fills the template from a feature's properties. Absent properties
// are listed in Popup.Missing.
func (t Template) Build(layer string, at orb.Point, props map[string]any) service.Popup {
	p := service.Popup{
		Layer:  layer,
		LngLat: at,
		Fields: make([]service.PopupField, 0, len(t.Fields)),
		Link:   t.Link,
	}
	for _, f := range t.Fields {
		v, ok := props[f.Property]
		if !ok || v == nil {
			p.Missing = append(p.Missing, f.Property)
			p.Fields = append(p.Fields, service.PopupField{Label: f.Label})
			continue
		}
		format := f.Format
		if format == nil {
			format = FormatValue
		}
		p.Fields = append(p.Fields, service.PopupField{Label: f.Label, Value: format(v)})
	}
	return p
}

// MissingError reports the popup's absent properties, or nil.
func MissingError(p service.Popup) error {
	if len(p.Missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAttributeMissing, strings.Join(p.Missing, ", "))
}

// FormatValue renders a property value as text. Whole numbers print without
// a fraction.
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

// FormatYear shows "None" for the unknown-year sentinel, a numeric 0. The
// string "0" is not the sentinel and is shown as is.
func FormatYear(v any) string {
	switch x := v.(type) {
	case float64:
		if x == 0 {
			return "None"
		}
	case int:
		if x == 0 {
			return "None"
		}
	case int64:
		if x == 0 {
			return "None"
		}
	}
	return FormatValue(v)
}

// FormatLength rounds a length half up to whole meters.
func FormatLength(v any) string {
	x, ok := v.(float64)
	if !ok {
		if s, isStr := v.(string); isStr {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return s
			}
			x = parsed
		} else {
			return FormatValue(v)
		}
	}
	return strconv.FormatFloat(math.Floor(x+0.5), 'f', 0, 64) + "m"
}

// Dataset popups.
var (
	BikewayPopup = Template{
		Fields: []Field{
			{Label: "Street Name", Property: style.PropStreetName},
			{Label: "Type", Property: style.PropInfraType},
			{Label: "Installation Year", Property: style.PropInstalled, Format: FormatYear},
			{Label: "Length", Property: style.PropLength, Format: FormatLength},
		},
		Link: service.PopupLink{Href: "https://open.toronto.ca/dataset/bikeways/", Text: "Bikeways Source"},
	}
	ParkingPopup = Template{
		Fields: []Field{
			{Label: "Address", Property: style.PropAddress},
			{Label: "Capacity", Property: style.PropCapacity},
		},
		Link: service.PopupLink{Href: "https://open.toronto.ca/dataset/bicycle-parking-high-capacity-outdoor/", Text: "Bike Parking Source"},
	}
	ShopPopup = Template{
		Fields: []Field{
			{Label: "Name", Property: style.PropName},
			{Label: "Address", Property: style.PropAddress},
			{Label: "Phone #", Property: style.PropPhone},
			{Label: "Email", Property: style.PropEmail},
			{Label: "Rentals", Property: style.PropRental},
		},
		Link: service.PopupLink{Href: "https://open.toronto.ca/dataset/bicycle-shops/", Text: "Bike Shops Source"},
	}
)
