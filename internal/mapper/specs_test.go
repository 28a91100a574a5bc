package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gabrrrielll/real-estate-scraper/config"
	"github.com/gabrrrielll/real-estate-scraper/internal/crawler"
)

func TestMapSpecificationsSkipsNonExactLabels(t *testing.T) {
	raw := crawler.Specifications{
		{Label: "Suprafață utilă", Value: "-"},
		{Label: "Surface", Value: "54 mp"},
	}
	table := []config.SpecField{
		{Field: "fave_property_size", Labels: []string{"Suprafață", "Surface"}, Type: config.ValueNumeric},
	}

	assert.Equal(t, map[string]string{"fave_property_size": "54"}, MapSpecifications(raw, table))
}

func TestMapSpecificationsDiacriticsAndCase(t *testing.T) {
	raw := crawler.Specifications{
		{Label: "  SUPRAFAȚĂ UTILĂ ", Value: "54,5 mp"},
		{Label: "Băi", Value: "2 băi"},
		{Label: "Etaj", Value: "  3 / 10 "},
	}
	table := []config.SpecField{
		{Field: "fave_property_size", Labels: []string{"Suprafata utila"}, Type: config.ValueNumeric},
		{Field: "fave_property_bathrooms", Labels: []string{"bai"}, Type: config.ValueNumeric},
		{Field: "fave_property_floor", Labels: []string{"Etaj"}, Type: config.ValueString},
	}

	assert.Equal(t, map[string]string{
		"fave_property_size":      "54.5",
		"fave_property_bathrooms": "2",
		"fave_property_floor":     "3 / 10",
	}, MapSpecifications(raw, table))
}

func TestMapSpecificationsEmptyValueStopsField(t *testing.T) {
	raw := crawler.Specifications{
		{Label: "Camere", Value: "la cerere"},
		{Label: "Nr. camere", Value: "3"},
	}
	table := []config.SpecField{
		{Field: "fave_property_rooms", Labels: []string{"Camere", "Nr. camere"}, Type: config.ValueNumeric},
	}

	// the first matching label decides, even when it yields nothing
	assert.Empty(t, MapSpecifications(raw, table))
}

func TestMapSpecificationsLabelSatisfiesOneField(t *testing.T) {
	raw := crawler.Specifications{
		{Label: "Suprafață", Value: "80 mp"},
		{Label: "Suprafață teren", Value: "300 mp"},
	}
	table := []config.SpecField{
		{Field: "fave_property_size", Labels: []string{"Suprafață"}, Type: config.ValueNumeric},
		{Field: "fave_land_area", Labels: []string{"Suprafață", "Suprafață teren"}, Type: config.ValueNumeric},
	}

	assert.Equal(t, map[string]string{
		"fave_property_size": "80",
		"fave_land_area":     "300",
	}, MapSpecifications(raw, table))
}

func TestMapSpecificationsFirstRawOccurrenceWins(t *testing.T) {
	raw := crawler.Specifications{
		{Label: "Etaj", Value: "3"},
		{Label: "ETAJ", Value: "4"},
	}
	table := []config.SpecField{{Field: "floor", Labels: []string{"etaj"}, Type: config.ValueString}}

	assert.Equal(t, map[string]string{"floor": "3"}, MapSpecifications(raw, table))
}

func TestMapSpecificationsNothingToMap(t *testing.T) {
	assert.Empty(t, MapSpecifications(nil, []config.SpecField{{Field: "x", Labels: []string{"y"}}}))
	assert.Empty(t, MapSpecifications(crawler.Specifications{{Label: "y", Value: "1"}}, nil))
}
