package config

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxDepth              = 3
	DefaultLimit                 = 50
	DefaultTimeoutMs             = 20000
	DefaultWaitForMs             = 2000
	DefaultMaxContentLengthChars = 250000
	DefaultModel                 = "gpt-4o-mini"

	MaxContentLengthCeiling = 500000
)

// Options is the named configuration bag consumed by crawls and answers.
// Zero numeric values and a nil AllowBackwardLinks mean "use the default".
type Options struct {
	MaxDepth              int    `yaml:"max_depth" json:"max_depth"`
	Limit                 int    `yaml:"limit" json:"limit"`
	TimeoutMs             int    `yaml:"timeout_ms" json:"timeout_ms"`
	AllowBackwardLinks    *bool  `yaml:"allow_backward_links" json:"allow_backward_links"`
	WaitForMs             int    `yaml:"wait_for_ms" json:"wait_for_ms"`
	MaxContentLengthChars int    `yaml:"max_content_length_chars" json:"max_content_length_chars"`
	Model                 string `yaml:"model" json:"model"`
	CrawlCredential       string `yaml:"crawl_credential" json:"crawl_credential,omitempty"`
	ModelCredential       string `yaml:"model_credential" json:"model_credential,omitempty"`
}

// DefaultOptions returns the documented defaults with no credentials.
func DefaultOptions() Options {
	return Options{}.WithDefaults()
}

// WithDefaults fills every unset option with its default.
func (o Options) WithDefaults() Options {
	if o.MaxDepth == 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Limit == 0 {
		o.Limit = DefaultLimit
	}
	if o.TimeoutMs == 0 {
		o.TimeoutMs = DefaultTimeoutMs
	}
	if o.WaitForMs == 0 {
		o.WaitForMs = DefaultWaitForMs
	}
	if o.MaxContentLengthChars == 0 {
		o.MaxContentLengthChars = DefaultMaxContentLengthChars
	}
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.AllowBackwardLinks == nil {
		t := true
		o.AllowBackwardLinks = &t
	}
	return o
}

// BackwardLinks resolves AllowBackwardLinks, defaulting to true.
func (o Options) BackwardLinks() bool {
	return o.AllowBackwardLinks == nil || *o.AllowBackwardLinks
}

// Merge returns o with every set field of overlay applied on top.
func (o Options) Merge(overlay Options) Options {
	if overlay.MaxDepth != 0 {
		o.MaxDepth = overlay.MaxDepth
	}
	if overlay.Limit != 0 {
		o.Limit = overlay.Limit
	}
	if overlay.TimeoutMs != 0 {
		o.TimeoutMs = overlay.TimeoutMs
	}
	if overlay.AllowBackwardLinks != nil {
		b := *overlay.AllowBackwardLinks
		o.AllowBackwardLinks = &b
	}
	if overlay.WaitForMs != 0 {
		o.WaitForMs = overlay.WaitForMs
	}
	if overlay.MaxContentLengthChars != 0 {
		o.MaxContentLengthChars = overlay.MaxContentLengthChars
	}
	if overlay.Model != "" {
		o.Model = overlay.Model
	}
	if overlay.CrawlCredential != "" {
		o.CrawlCredential = overlay.CrawlCredential
	}
	if overlay.ModelCredential != "" {
		o.ModelCredential = overlay.ModelCredential
	}
	return o
}

// Validate enforces the ranges the settings form accepts.
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.MaxDepth, validation.Min(1)),
		validation.Field(&o.Limit, validation.Min(1)),
		validation.Field(&o.TimeoutMs, validation.Min(1)),
		validation.Field(&o.WaitForMs, validation.Min(0)),
		validation.Field(&o.MaxContentLengthChars, validation.Min(1), validation.Max(MaxContentLengthCeiling)),
		validation.Field(&o.Model, validation.Required),
	)
}

// LoadOptions builds the options bag from an optional YAML file overlaid
// with environment variables. Defaults are applied last.
func LoadOptions(path string) (Options, error) {
	var opts Options
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Options{}, fmt.Errorf("read options file: %w", err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return Options{}, fmt.Errorf("parse options file: %w", err)
		}
	}

	opts = opts.Merge(optionsFromEnv()).WithDefaults()
	if err := opts.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}

func optionsFromEnv() Options {
	o := Options{
		MaxDepth:              envInt("SITECHAT_MAX_DEPTH", 0),
		Limit:                 envInt("SITECHAT_LIMIT", 0),
		TimeoutMs:             envInt("SITECHAT_TIMEOUT_MS", 0),
		WaitForMs:             envInt("SITECHAT_WAIT_FOR_MS", 0),
		MaxContentLengthChars: envInt("SITECHAT_MAX_CONTENT_LENGTH", 0),
		Model:                 envStr("SITECHAT_MODEL", ""),
		CrawlCredential:       envStr("FIRECRAWL_API_KEY", ""),
		ModelCredential:       envStr("OPENAI_API_KEY", ""),
	}
	if os.Getenv("SITECHAT_ALLOW_BACKWARD_LINKS") != "" {
		b := envBool("SITECHAT_ALLOW_BACKWARD_LINKS", true)
		o.AllowBackwardLinks = &b
	}
	return o
}
