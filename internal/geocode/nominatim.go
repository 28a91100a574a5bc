// Package geocode resolves coordinates to postal addresses through a
// Nominatim-compatible reverse geocoding endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabrrrielll/real-estate-scraper/helpers"
	"github.com/gabrrrielll/real-estate-scraper/internal/normalize"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
)

const userAgent = "Real Estate Scraper/1.0"

// Address is a reverse geocoding result. Missing components are empty.
type Address struct {
	DisplayName string `json:"display_name" bson:"display_name"`
	Street      string `json:"street" bson:"street"`
	HouseNumber string `json:"house_number" bson:"house_number"`
	PostalCode  string `json:"postal_code" bson:"postal_code"`
	City        string `json:"city" bson:"city"`
	County      string `json:"county" bson:"county"`
	Country     string `json:"country" bson:"country"`
}

type nominatimResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// Client calls the reverse endpoint
type Client struct {
	getter   helpers.Getter
	endpoint string
	language string
	log      *logger.Logger
}

// NewClient creates a reverse geocoding client
func NewClient(getter helpers.Getter, endpoint, language string, log *logger.Logger) *Client {
	return &Client{getter: getter, endpoint: endpoint, language: language, log: log}
}

// ReverseGeocode returns the address at lat/lon, or nil when the
// coordinates are unusable or the provider fails.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon string) *Address {
	addr, err := c.Reverse(ctx, lat, lon)
	if err != nil {
		c.log.Warn().Err(err).Str("lat", lat).Str("lon", lon).Msg("Reverse geocoding failed")
		return nil
	}
	return addr
}

// Reverse is ReverseGeocode with the failure reason
func (c *Client) Reverse(ctx context.Context, lat, lon string) (*Address, error) {
	lat = normalize.NormalizeCoordinate(lat)
	lon = normalize.NormalizeCoordinate(lon)
	if lat == "" || lon == "" {
		return nil, errors.NewGeocoding(c.endpoint, "missing coordinates", nil)
	}

	params := url.Values{}
	params.Set("lat", lat)
	params.Set("lon", lon)
	params.Set("format", "json")
	params.Set("addressdetails", "1")
	params.Set("zoom", "18")
	if c.language != "" {
		params.Set("accept-language", c.language)
	}

	headers := http.Header{}
	headers.Set("User-Agent", userAgent)
	headers.Set("Accept", "application/json")

	resp, err := c.getter.Get(ctx, c.endpoint+"?"+params.Encode(), headers)
	if err != nil {
		return nil, errors.NewGeocoding(c.endpoint, "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewGeocoding(c.endpoint, fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}

	var body nominatimResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, errors.NewGeocoding(c.endpoint, "decode response", err)
	}
	if body.Error != "" {
		return nil, errors.NewGeocoding(c.endpoint, body.Error, nil)
	}
	if body.Address == nil {
		return nil, errors.NewGeocoding(c.endpoint, "response has no address", nil)
	}

	a := body.Address
	return &Address{
		DisplayName: strings.TrimSpace(body.DisplayName),
		Street:      firstOf(a, "road", "street", "street_name"),
		HouseNumber: firstOf(a, "house_number", "house"),
		PostalCode:  firstOf(a, "postcode", "postal_code"),
		City:        firstOf(a, "city", "town", "village", "municipality"),
		County:      firstOf(a, "county", "state"),
		Country:     firstOf(a, "country"),
	}, nil
}

func firstOf(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
