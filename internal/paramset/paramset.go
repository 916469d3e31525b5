// Package paramset implements the flat key/value configuration blob that
// describes a device: its schedule, children, parents and policy settings.
//
// Blobs are written as YAML. Nested maps are flattened with "." and
// sequences are joined with ",", so
//
//	schedule:
//	  claim: 1760000000
//	children: [det-a, det-b]
//
// becomes {"schedule.claim": "1760000000", "children": "det-a,det-b"}.
package paramset

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidValue is returned when a value cannot be converted to the
// requested type.
var ErrInvalidValue = errors.New("paramset: invalid value")

// Set is a flat configuration blob.
type Set map[string]string

// Parse decodes a YAML document into a flat Set.
func Parse(data []byte) (Set, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing parameter set: %w", err)
	}
	out := make(Set, len(doc))
	for k, v := range doc {
		flatten(out, k, v)
	}
	return out, nil
}

// Load reads and parses a YAML parameter file.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading parameter set: %w", err)
	}
	return Parse(data)
}

func flatten(out Set, key string, v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			flatten(out, key+"."+k, child)
		}
	case map[any]any:
		for k, child := range val {
			flatten(out, key+"."+fmt.Sprint(k), child)
		}
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, scalar(item))
		}
		out[key] = strings.Join(parts, ",")
	case nil:
		out[key] = ""
	default:
		out[key] = scalar(val)
	}
}

func scalar(v any) string {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// Marshal encodes the set as a flat YAML mapping with sorted keys.
func (s Set) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(map[string]string(s))
	if err != nil {
		return nil, fmt.Errorf("encoding parameter set: %w", err)
	}
	return data, nil
}

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns a new set holding s overlaid with other.
func (s Set) Merge(other Set) Set {
	out := s.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Subset returns the keys under prefix with the prefix and its dot removed.
//
//	Set{"child.det-a.type": "detector"}.Subset("child.det-a") // {"type": "detector"}
func (s Set) Subset(prefix string) Set {
	p := prefix + "."
	out := make(Set)
	for k, v := range s {
		if strings.HasPrefix(k, p) {
			out[strings.TrimPrefix(k, p)] = v
		}
	}
	return out
}

// Keys returns the sorted keys of s.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is present, even with an empty value.
func (s Set) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// String returns the trimmed value for key, or def when absent or empty.
func (s Set) String(key, def string) string {
	if v := strings.TrimSpace(s[key]); v != "" {
		return v
	}
	return def
}

// Int returns key as an integer, or def when absent.
func (s Set) Int(key string, def int) (int, error) {
	v := strings.TrimSpace(s[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidValue, key, v)
	}
	return n, nil
}

// Duration returns key as a duration, or def when absent. Plain numbers are
// read as seconds.
func (s Set) Duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(s[key])
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidValue, key, v)
	}
	return d, nil
}

// Time returns key as an instant. Values are epoch seconds or RFC 3339.
// An absent, empty or zero value yields the zero time.
func (s Set) Time(key string) (time.Time, error) {
	v := strings.TrimSpace(s[key])
	if v == "" || v == "0" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s=%q is not a time", ErrInvalidValue, key, v)
	}
	return t.UTC(), nil
}

// SetTime stores t as epoch seconds, or removes key for the zero time.
func (s Set) SetTime(key string, t time.Time) {
	if t.IsZero() {
		delete(s, key)
		return
	}
	s[key] = strconv.FormatInt(t.Unix(), 10)
}

// List returns the comma separated values of key with empty items removed.
func (s Set) List(key string) []string {
	v := strings.TrimSpace(s[key])
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
