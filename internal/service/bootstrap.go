package service

import (
	"context"
	"errors"

	"github.com/joeblew999/plat-bikemap/internal/style"
)

// Default dataset locations.
const (
	DefaultBikewaysURL = "https://anamariiaz.github.io/data/bikeways.geojson"
	DefaultParkingURL  = "https://anamariiaz.github.io/data_2/bicycle_parking_map_data.geojson"
	DefaultShopsURL    = "https://anamariiaz.github.io/data_2/bicycle_shops_data.geojson"
)

// DatasetURLs locates the three bike map datasets.
type DatasetURLs struct {
	Bikeways string `json:"bikeways" yaml:"bikeways"`
	Parking  string `json:"parking" yaml:"parking"`
	Shops    string `json:"shops" yaml:"shops"`
}

// DefaultDatasetURLs returns the published dataset locations.
func DefaultDatasetURLs() DatasetURLs {
	return DatasetURLs{Bikeways: DefaultBikewaysURL, Parking: DefaultParkingURL, Shops: DefaultShopsURL}
}

// BikeMapSources returns the source definitions of the bike map.
func BikeMapSources(urls DatasetURLs) []SourceDef {
	clustered := SourceOptions{
		GenerateID:     true,
		Cluster:        true,
		ClusterMaxZoom: DefaultClusterMaxZoom,
		ClusterRadius:  DefaultClusterRadius,
	}
	return []SourceDef{
		{Name: style.SourceBikeways, URL: urls.Bikeways, Options: SourceOptions{GenerateID: true}},
		{Name: style.SourceParking, URL: urls.Parking, Options: clustered},
		{Name: style.SourceShops, URL: urls.Shops, Options: clustered},
	}
}

// SetupBikeMap loads the bike map sources into s and adds every layer in
// draw order. Sources that fail to load are registered empty; their
// *DataFetchError values are joined into the returned error while the
// layers are still added. A non-nil error is fatal only when it contains a
// *ConfigurationError.
func SetupBikeMap(ctx context.Context, s *MapSession, defs []SourceDef) error {
	var fetchErrs []error
	for _, def := range defs {
		if err := s.LoadSource(ctx, def); err != nil {
			var fe *DataFetchError
			if !errors.As(err, &fe) {
				return err
			}
			fetchErrs = append(fetchErrs, err)
		}
	}
	for _, spec := range style.DefaultSpecs() {
		if err := s.AddLayer(spec); err != nil {
			return err
		}
	}
	return errors.Join(fetchErrs...)
}
