package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
)

// ValueType selects how a mapped specification value is normalized
type ValueType string

const (
	ValueNumeric ValueType = "numeric"
	ValueString  ValueType = "string"
)

// Selectors holds one query per extracted field. Queries starting with
// "/", "./" or "(" are XPath, everything else is a CSS selector.
type Selectors struct {
	PropertyListURLs string `yaml:"property_list_urls"`
	Title            string `yaml:"title"`
	Content          string `yaml:"content"`
	Price            string `yaml:"price"`
	Size             string `yaml:"size"`
	Address          string `yaml:"address"`
	Latitude         string `yaml:"latitude"`
	Longitude        string `yaml:"longitude"`
	Phone            string `yaml:"phone"`
	Images           string `yaml:"images"`
	Specifications   string `yaml:"specifications"`
}

// ActiveStatuses are the record statuses that count as already imported.
// New records must be created in one of them.
var ActiveStatuses = []string{"publish", "draft", "pending", "private"}

// Category is one listing page the scraper rotates over
type Category struct {
	Key          string
	URL          string
	TypeTermID   string
	StatusTermID string
}

// SpecField maps raw specification labels onto one target field
type SpecField struct {
	Field  string    `yaml:"-"`
	Labels []string  `yaml:"labels"`
	Type   ValueType `yaml:"type"`
}

// ScraperConfig is the read-only configuration of one scraping run
type ScraperConfig struct {
	Categories            []Category
	PropertiesToCheck     int
	MaxAdsPerSession      int
	RetryAttempts         int
	RetryInterval         time.Duration
	RequestTimeout        time.Duration
	GeocodeTimeout        time.Duration
	RateLimitBlock        time.Duration
	DefaultStatus         string
	BaseURL               string
	UserAgent             string
	Selectors             Selectors
	SpecificationsMapping []SpecField
	PlaceholderMarker     string
	ImageDenyList         []string
	SingleTestURL         string
}

// scraperFile is the on-disk YAML layout. Ordered mappings are decoded
// through yaml.MapSlice; pointers tell absent keys from explicit zeros.
type scraperFile struct {
	CategoryURLs          yaml.MapSlice     `yaml:"category_urls"`
	CategoryTypeMapping   map[string]string `yaml:"category_type_mapping"`
	CategoryStatusMapping map[string]string `yaml:"category_status_mapping"`
	PropertiesToCheck     *int              `yaml:"properties_to_check"`
	MaxAdsPerSession      *int              `yaml:"max_ads_per_session"`
	RetryAttempts         *int              `yaml:"retry_attempts"`
	RetryInterval         *int              `yaml:"retry_interval"`
	RequestTimeout        *int              `yaml:"request_timeout"`
	GeocodeTimeout        *int              `yaml:"geocode_timeout"`
	RateLimitBlock        *int              `yaml:"rate_limit_block"`
	DefaultStatus         string            `yaml:"default_status"`
	BaseURL               string            `yaml:"base_url"`
	UserAgent             string            `yaml:"user_agent"`
	Selectors             *Selectors        `yaml:"selectors"`
	SpecificationsMapping yaml.MapSlice     `yaml:"specifications_mapping"`
	PlaceholderMarker     string            `yaml:"placeholder_marker"`
	ImageDenyList         []string          `yaml:"image_deny_list"`
	SingleTestURL         string            `yaml:"single_test_url"`
}

// DefaultSelectors returns the homezz.ro selector table
func DefaultSelectors() Selectors {
	return Selectors{
		PropertyListURLs: `//a[contains(@class, "card-box") and contains(@class, "card-1") and @href]`,
		Title:            `//h1[@data-test-id="ad-title"]/span[1]`,
		Content:          `//pre[@data-test-id="ad-description"]`,
		Price:            `//div[@data-test-id="ad-price"]`,
		Size:             `//div[@class="box-attr second"]/p[@data-test-id="ad-attribute"]/span[2]`,
		Address:          `//div[@id="lat"] | //div[@id="lng"]`,
		Latitude:         `//div[@id="lat"]`,
		Longitude:        `//div[@id="lng"]`,
		Images:           `//div[contains(@class, "small-box-img")]//img[@src]`,
		Phone:            `//p[@id="number-phone-active-format"]`,
		Specifications:   `//p[@data-test-id="ad-attribute"]`,
	}
}

// DefaultScraperConfig returns the built-in configuration without categories
func DefaultScraperConfig() *ScraperConfig {
	return &ScraperConfig{
		PropertiesToCheck: 10,
		MaxAdsPerSession:  2,
		RetryAttempts:     2,
		RetryInterval:     30 * time.Second,
		RequestTimeout:    30 * time.Second,
		GeocodeTimeout:    10 * time.Second,
		RateLimitBlock:    5 * time.Minute,
		DefaultStatus:     "draft",
		BaseURL:           "https://homezz.ro",
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		Selectors:         DefaultSelectors(),
		PlaceholderMarker: "placeholder",
		ImageDenyList:     []string{"logo.png", "icon.png"},
	}
}

// LoadScraperConfig reads and validates the YAML configuration at path
func LoadScraperConfig(path string) (*ScraperConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration("read scraper config", err)
	}
	cfg, err := ParseScraperConfig(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseScraperConfig overlays YAML data on DefaultScraperConfig
func ParseScraperConfig(data []byte) (*ScraperConfig, error) {
	var f scraperFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewConfiguration("parse scraper config", err)
	}

	cfg := DefaultScraperConfig()

	for _, item := range f.CategoryURLs {
		key := fmt.Sprint(item.Key)
		url, _ := item.Value.(string)
		cfg.Categories = append(cfg.Categories, Category{
			Key:          key,
			URL:          strings.TrimSpace(url),
			TypeTermID:   f.CategoryTypeMapping[key],
			StatusTermID: f.CategoryStatusMapping[key],
		})
	}

	setInt(&cfg.PropertiesToCheck, f.PropertiesToCheck)
	setInt(&cfg.MaxAdsPerSession, f.MaxAdsPerSession)
	setInt(&cfg.RetryAttempts, f.RetryAttempts)
	setSeconds(&cfg.RetryInterval, f.RetryInterval)
	setSeconds(&cfg.RequestTimeout, f.RequestTimeout)
	setSeconds(&cfg.GeocodeTimeout, f.GeocodeTimeout)
	setSeconds(&cfg.RateLimitBlock, f.RateLimitBlock)
	setString(&cfg.DefaultStatus, f.DefaultStatus)
	setString(&cfg.BaseURL, f.BaseURL)
	setString(&cfg.UserAgent, f.UserAgent)
	setString(&cfg.PlaceholderMarker, f.PlaceholderMarker)
	cfg.SingleTestURL = strings.TrimSpace(f.SingleTestURL)
	if len(f.ImageDenyList) > 0 {
		cfg.ImageDenyList = f.ImageDenyList
	}
	if f.Selectors != nil {
		cfg.Selectors = mergeSelectors(cfg.Selectors, *f.Selectors)
	}

	for _, item := range f.SpecificationsMapping {
		field, err := decodeSpecField(item)
		if err != nil {
			return nil, err
		}
		cfg.SpecificationsMapping = append(cfg.SpecificationsMapping, field)
	}

	return cfg, nil
}

func decodeSpecField(item yaml.MapItem) (SpecField, error) {
	field := SpecField{Field: fmt.Sprint(item.Key), Type: ValueString}

	switch v := item.Value.(type) {
	case []interface{}:
		// shorthand: field: [label, label]
		for _, l := range v {
			field.Labels = append(field.Labels, fmt.Sprint(l))
		}
	default:
		raw, err := yaml.Marshal(v)
		if err != nil {
			return field, errors.NewConfiguration("specification mapping "+field.Field, err)
		}
		if err := yaml.Unmarshal(raw, &field); err != nil {
			return field, errors.NewConfiguration("specification mapping "+field.Field, err)
		}
		field.Field = fmt.Sprint(item.Key)
		if field.Type == "" {
			field.Type = ValueString
		}
	}

	if field.Type != ValueNumeric && field.Type != ValueString {
		return field, errors.NewConfiguration(fmt.Sprintf("specification mapping %s: unknown type %q", field.Field, field.Type), nil)
	}
	return field, nil
}

// ActiveCategories returns categories with a non-empty URL, in order
func (c *ScraperConfig) ActiveCategories() []Category {
	var out []Category
	for _, cat := range c.Categories {
		if cat.URL != "" {
			out = append(out, cat)
		}
	}
	return out
}

// Validate checks that a run can start with this configuration
func (c *ScraperConfig) Validate() error {
	if len(c.ActiveCategories()) == 0 {
		return errors.NewConfiguration("no category URLs configured", nil)
	}
	if c.PropertiesToCheck < 1 {
		return errors.NewConfiguration("properties_to_check must be at least 1", nil)
	}
	if c.MaxAdsPerSession < 0 {
		return errors.NewConfiguration("max_ads_per_session must not be negative", nil)
	}
	if c.RetryAttempts < 1 {
		return errors.NewConfiguration("retry_attempts must be at least 1", nil)
	}
	if !isActiveStatus(c.DefaultStatus) {
		return errors.NewConfiguration(fmt.Sprintf("default_status %q must be one of %s", c.DefaultStatus, strings.Join(ActiveStatuses, ", ")), nil)
	}
	if c.Selectors.PropertyListURLs == "" || c.Selectors.Title == "" {
		return errors.NewConfiguration("property_list_urls and title selectors are required", nil)
	}
	return nil
}

func isActiveStatus(status string) bool {
	for _, s := range ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func mergeSelectors(base, override Selectors) Selectors {
	setString(&base.PropertyListURLs, override.PropertyListURLs)
	setString(&base.Title, override.Title)
	setString(&base.Content, override.Content)
	setString(&base.Price, override.Price)
	setString(&base.Size, override.Size)
	setString(&base.Address, override.Address)
	setString(&base.Latitude, override.Latitude)
	setString(&base.Longitude, override.Longitude)
	setString(&base.Phone, override.Phone)
	setString(&base.Images, override.Images)
	setString(&base.Specifications, override.Specifications)
	return base
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Second
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
