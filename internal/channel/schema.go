package channel

import (
	"sort"
	"strings"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// Schema is the closed parameter set accepted by a channel.
type Schema struct {
	Required  []string
	Optional  []string
	Defaults  map[string]string
	Platforms []domain.Platform
	Check     func(params domain.Parameters) []FieldError
}

// Validate checks params against the schema and returns a normalized copy
// with trimmed values and defaults applied.
func (s Schema) Validate(ch domain.Channel, platform domain.Platform, params domain.Parameters) (domain.Parameters, error) {
	var fields []FieldError
	known := make(map[string]bool, len(s.Required)+len(s.Optional))
	for _, key := range s.Required {
		known[key] = true
	}
	for _, key := range s.Optional {
		known[key] = true
	}

	out := make(domain.Parameters, len(params)+len(s.Defaults))
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !known[key] {
			fields = append(fields, FieldError{Field: key, Message: "unknown parameter"})
			continue
		}
		if value := strings.TrimSpace(params[key]); value != "" {
			out[key] = value
		}
	}
	for key, value := range s.Defaults {
		if _, ok := out[key]; !ok {
			out[key] = value
		}
	}
	for _, key := range s.Required {
		if out[key] == "" {
			fields = append(fields, FieldError{Field: key, Message: "required"})
		}
	}
	if len(s.Platforms) > 0 && !containsPlatform(s.Platforms, platform) {
		fields = append(fields, FieldError{Field: "platform", Message: "channel does not accept " + string(platform) + " artifacts"})
	}
	if len(fields) == 0 && s.Check != nil {
		fields = append(fields, s.Check(out)...)
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Channel: ch, Fields: fields}
	}
	return out, nil
}

// OneOf returns a check that restricts key to a fixed set of values when present.
func OneOf(key string, allowed ...string) func(domain.Parameters) []FieldError {
	return func(params domain.Parameters) []FieldError {
		value, ok := params[key]
		if !ok {
			return nil
		}
		for _, candidate := range allowed {
			if value == candidate {
				return nil
			}
		}
		return []FieldError{{Field: key, Message: "must be one of " + strings.Join(allowed, ", ")}}
	}
}

// Checks combines several checks.
func Checks(checks ...func(domain.Parameters) []FieldError) func(domain.Parameters) []FieldError {
	return func(params domain.Parameters) []FieldError {
		var out []FieldError
		for _, check := range checks {
			out = append(out, check(params)...)
		}
		return out
	}
}

func containsPlatform(list []domain.Platform, p domain.Platform) bool {
	for _, candidate := range list {
		if candidate == p {
			return true
		}
	}
	return false
}
