package api

import (
	"encoding/json"

	"github.com/diwise/water-quality-mgmt/pkg/types"
)

type meta struct {
	TotalRecords uint64  `json:"totalRecords"`
	Offset       *uint64 `json:"offset,omitempty"`
	Limit        *uint64 `json:"limit,omitempty"`
	Count        uint64  `json:"count"`
}

type ApiResponse struct {
	Meta *meta `json:"meta,omitempty"`
	Data any   `json:"data"`
}

func (r ApiResponse) Byte() []byte {
	b, _ := json.Marshal(r)
	return b
}

func newMeta[T any](collection types.Collection[T]) *meta {
	return &meta{
		TotalRecords: collection.TotalCount,
		Offset:       &collection.Offset,
		Limit:        &collection.Limit,
		Count:        collection.Count,
	}
}

type GeoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []GeoJSONFeature `json:"features"`
	Meta     *meta            `json:"meta,omitempty"`
}

type GeoJSONFeature struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Geometry   GeoJSONPoint   `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type GeoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func NewPoint(location types.Location) GeoJSONPoint {
	return GeoJSONPoint{
		Type:        "Point",
		Coordinates: [2]float64{location.Longitude, location.Latitude},
	}
}

// NewFeatureCollectionWithReadings renders a reading collection as GeoJSON,
// with the full reading document as feature properties.
func NewFeatureCollectionWithReadings(collection types.Collection[types.Reading]) (*GeoJSONFeatureCollection, error) {
	fc := &GeoJSONFeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]GeoJSONFeature, 0, len(collection.Data)),
		Meta:     newMeta(collection),
	}

	for _, reading := range collection.Data {
		properties := make(map[string]any)

		b, err := json.Marshal(reading)
		if err != nil {
			return nil, err
		}
		err = json.Unmarshal(b, &properties)
		if err != nil {
			return nil, err
		}

		fc.Features = append(fc.Features, GeoJSONFeature{
			ID:         reading.ID,
			Type:       "Feature",
			Geometry:   NewPoint(reading.Location),
			Properties: properties,
		})
	}

	return fc, nil
}
