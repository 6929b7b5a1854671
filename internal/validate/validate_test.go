package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type source struct {
	Name string `validate:"required"`
	URL  string `validate:"required,url"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(source{Name: "bikeways", URL: "https://example.com/bikeways.geojson"}))
	assert.NoError(t, Struct(source{Name: "bikeways", URL: "inline:bikeways"}))
	assert.Error(t, Struct(source{Name: "bikeways", URL: "not a url"}))
	assert.Error(t, Struct(source{URL: "https://example.com"}))
	assert.Same(t, Get(), Get())
}
