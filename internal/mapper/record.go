// Package mapper turns extracted pages into normalized property records
// and the meta layout of the target property schema.
package mapper

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/gabrrrielll/real-estate-scraper/config"
	"github.com/gabrrrielll/real-estate-scraper/internal/crawler"
	"github.com/gabrrrielll/real-estate-scraper/internal/geocode"
	"github.com/gabrrrielll/real-estate-scraper/internal/normalize"
	"github.com/gabrrrielll/real-estate-scraper/logger"
)

// Meta keys written for every imported property
const (
	MetaPrice          = "fave_property_price"
	MetaSize           = "fave_property_size"
	MetaSizePrefix     = "fave_property_size_prefix"
	MetaLandArea       = "fave_land_area"
	MetaLandPostfix    = "fave_property_land_postfix"
	MetaBedrooms       = "fave_property_bedrooms"
	MetaBathrooms      = "fave_property_bathrooms"
	MetaRooms          = "fave_property_rooms"
	MetaGarages        = "fave_property_garages"
	MetaGarageSize     = "fave_property_garage_size"
	MetaAddress        = "fave_property_address"
	MetaMapAddress     = "fave_property_map_address"
	MetaLatitude       = "fave_property_map_latitude"
	MetaLongitude      = "fave_property_map_longitude"
	MetaLocation       = "fave_property_location"
	MetaSourceURL      = "fave_property_source_url"
	MetaPrivateNote    = "fave_private_note"
	MetaOwnerPhone     = "fave_telefon-proprietar"
	MetaYear           = "fave_property_year"
	MetaFeatured       = "fave_featured"
	MetaShowMap        = "fave_property_map"
	MetaStreetView     = "fave_property_map_street_view"
	MetaImages         = "fave_property_images"
	MetaOriginImageURL = "_real_estate_scraper_original_image_url"
)

// Taxonomies assigned to imported properties
const (
	TaxonomyType    = "property_type"
	TaxonomyStatus  = "property_status"
	TaxonomyCountry = "property_country"
	TaxonomyCity    = "property_city"
	TaxonomyState   = "property_state"
)

const (
	excerptMinLength = 200
	excerptWords     = 30
	sizeUnit         = "mp"
	privateNote      = "Vezi anuntul original aici: @"
	bucharestState   = "București"
)

var sectorPattern = regexp.MustCompile(`Sector (\d+)`)

// Feature is one additional feature row shown on the property page
type Feature struct {
	Title string `json:"fave_additional_feature_title" bson:"fave_additional_feature_title"`
	Value string `json:"fave_additional_feature_value" bson:"fave_additional_feature_value"`
}

// MetaField is one meta key/value. An empty Value removes the key.
type MetaField struct {
	Key   string
	Value string
}

// Locations are the location taxonomy names of a property
type Locations struct {
	Country string
	City    string
	State   string
}

// Property is a normalized property record ready to persist
type Property struct {
	SourceURL      string                 `json:"source_url"`
	Title          string                 `json:"title"`
	Content        string                 `json:"content,omitempty"`
	Excerpt        string                 `json:"excerpt,omitempty"`
	Price          string                 `json:"price,omitempty"`
	Size           string                 `json:"size,omitempty"`
	Address        string                 `json:"address,omitempty"`
	Latitude       string                 `json:"latitude,omitempty"`
	Longitude      string                 `json:"longitude,omitempty"`
	Phone          string                 `json:"phone,omitempty"`
	Images         []string               `json:"images,omitempty"`
	Specifications crawler.Specifications `json:"specifications,omitempty"`
	MappedFields   map[string]string      `json:"mapped_fields,omitempty"`
	MappedKeys     []string               `json:"-"`
	Geocoded       *geocode.Address       `json:"geocoded,omitempty"`
}

// Geocoder resolves coordinates to an address, returning nil on failure
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon string) *geocode.Address
}

// Normalizer builds Property records from raw extractions
type Normalizer struct {
	mapping  []config.SpecField
	geocoder Geocoder
	log      *logger.Logger
}

// NewNormalizer creates a normalizer. geocoder may be nil.
func NewNormalizer(mapping []config.SpecField, geocoder Geocoder, log *logger.Logger) *Normalizer {
	return &Normalizer{mapping: mapping, geocoder: geocoder, log: log}
}

// Normalize cleans every field of raw, maps its specifications and, when
// coordinates are present, attaches the reverse geocoded address.
func (n *Normalizer) Normalize(ctx context.Context, raw crawler.RawProperty) *Property {
	p := &Property{
		SourceURL:      raw.SourceURL,
		Title:          normalize.CleanText(raw.Title),
		Content:        normalize.CleanContent(raw.Content),
		Price:          normalize.CleanPrice(raw.Price),
		Address:        normalize.CleanText(raw.Address),
		Latitude:       normalize.NormalizeCoordinate(raw.Latitude),
		Longitude:      normalize.NormalizeCoordinate(raw.Longitude),
		Phone:          strings.TrimSpace(raw.Phone),
		Images:         dedupe(raw.Images),
		Specifications: raw.Specifications,
		MappedFields:   MapSpecifications(raw.Specifications, n.mapping),
		MappedKeys:     n.mappedKeys(),
	}
	p.Excerpt = normalize.Excerpt(p.Content, excerptMinLength, excerptWords)

	size := raw.Size
	if mapped, ok := p.MappedFields[MetaSize]; ok {
		size = mapped
	}
	p.Size = normalize.CleanSize(size)

	if n.geocoder != nil && p.Latitude != "" && p.Longitude != "" {
		p.Geocoded = n.geocoder.ReverseGeocode(ctx, p.Latitude, p.Longitude)
		if p.Geocoded == nil {
			n.log.Debug().Str("url", raw.SourceURL).Msg("Continuing without geocoded address")
		}
	}

	return p
}

// mappedKeys lists the target fields of the mapping table in table order
func (n *Normalizer) mappedKeys() []string {
	var keys []string
	seen := make(map[string]bool, len(n.mapping))
	for _, field := range n.mapping {
		if !seen[field.Field] {
			seen[field.Field] = true
			keys = append(keys, field.Field)
		}
	}
	return keys
}

// FormattedAddress is the address saved on the record: geocoded street,
// number, Bucharest sector and postal code, else the scraped address.
func (p *Property) FormattedAddress() string {
	if p.Geocoded != nil {
		if formatted := formatAddress(p.Geocoded); formatted != "" {
			return normalize.CleanText(formatted)
		}
	}
	return p.Address
}

func formatAddress(a *geocode.Address) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(a.Street)
	add(a.HouseNumber)
	if m := sectorPattern.FindStringSubmatch(a.DisplayName); m != nil {
		add("Sector " + m[1])
	}
	add(a.PostalCode)

	return strings.Join(parts, ", ")
}

// Location returns "lat,lng" for the map, or "" without both coordinates
func (p *Property) Location() string {
	if p.Latitude == "" || p.Longitude == "" {
		return ""
	}
	return p.Latitude + "," + p.Longitude
}

// Meta returns the schema meta fields in a stable order. Fields with an
// empty value must be removed from the stored record. Mapped fields
// outside the built-in keys follow in mapping-table order, then any
// remaining mapped fields sorted by key.
func (p *Property) Meta() []MetaField {
	mapped := func(key string) string { return p.MappedFields[key] }
	address := p.FormattedAddress()

	meta := []MetaField{
		{MetaPrice, p.Price},
		{MetaSize, p.Size},
		{MetaSizePrefix, sizeUnit},
		{MetaLandArea, normalize.CleanSize(mapped(MetaLandArea))},
		{MetaLandPostfix, sizeUnit},
		{MetaBedrooms, normalize.CleanNumber(mapped(MetaBedrooms))},
		{MetaBathrooms, normalize.CleanNumber(mapped(MetaBathrooms))},
		{MetaRooms, normalize.CleanNumber(mapped(MetaRooms))},
		{MetaGarages, normalize.CleanNumber(mapped(MetaGarages))},
		{MetaGarageSize, normalize.CleanSize(mapped(MetaGarageSize))},
		{MetaAddress, address},
		{MetaMapAddress, address},
		{MetaLatitude, p.Latitude},
		{MetaLongitude, p.Longitude},
		{MetaLocation, p.Location()},
		{MetaSourceURL, p.SourceURL},
		{MetaPrivateNote, privateNote + p.SourceURL},
		{MetaOwnerPhone, p.Phone},
		{MetaYear, normalize.CleanNumber(mapped(MetaYear))},
		{MetaFeatured, "0"},
		{MetaShowMap, "1"},
		{MetaStreetView, "show"},
	}

	emitted := make(map[string]bool, len(meta))
	for _, f := range meta {
		emitted[f.Key] = true
	}
	for _, key := range p.MappedKeys {
		if !emitted[key] {
			emitted[key] = true
			meta = append(meta, MetaField{key, p.MappedFields[key]})
		}
	}
	var rest []string
	for key := range p.MappedFields {
		if !emitted[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		meta = append(meta, MetaField{key, p.MappedFields[key]})
	}
	return meta
}

// AdditionalFeatures lists the non-empty raw specifications in page order
func (p *Property) AdditionalFeatures() []Feature {
	var features []Feature
	for _, spec := range p.Specifications {
		value := strings.TrimSpace(spec.Value)
		if value == "" {
			continue
		}
		features = append(features, Feature{Title: strings.TrimSpace(spec.Label), Value: value})
	}
	return features
}

// Locations derives the location taxonomy names from the geocoded address.
// Bucharest has no county, so its state is the city itself.
func (p *Property) Locations() Locations {
	if p.Geocoded == nil {
		return Locations{}
	}
	loc := Locations{
		Country: normalize.CleanText(p.Geocoded.Country),
		City:    normalize.CleanText(p.Geocoded.City),
		State:   normalize.CleanText(p.Geocoded.County),
	}
	if loc.State == "" && isBucharest(loc.City) {
		loc.State = bucharestState
	}
	return loc
}

func isBucharest(city string) bool {
	switch strings.ToLower(city) {
	case "bucurești", "bucuresti", "bucharest":
		return true
	}
	return false
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
