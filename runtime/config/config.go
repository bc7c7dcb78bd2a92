// Package config reads process configuration from environment variables
// overlaid on an optional YAML file. Environment variables take precedence.
//
// The YAML file may use flat keys or nested maps; nested keys are joined with
// an underscore and upper-cased, so both documents below set
// TEMPORAL_SERVER_ADDRESS:
//
//	TEMPORAL_SERVER_ADDRESS: temporal:7233
//
//	temporal:
//	  server_address: temporal:7233
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration keys.
const (
	KeyConfigFile        = "ORCHESTRA_CONFIG"
	KeyTemporalAddress   = "TEMPORAL_SERVER_ADDRESS"
	KeyTemporalNamespace = "TEMPORAL_NAMESPACE"
	KeyConnectAttempts   = "TEMPORAL_CONNECT_ATTEMPTS"
	KeyRequestTimeout    = "ORCHESTRA_REQUEST_TIMEOUT"
	KeyHTTPAddr          = "ORCHESTRA_HTTP_ADDR"
	KeyMongoURI          = "MONGO_URI"
	KeyMongoDatabase     = "MONGO_DATABASE"
	KeyStartRate         = "ORCHESTRA_START_RATE"
	KeyStartBurst        = "ORCHESTRA_START_BURST"
)

// Defaults.
const (
	DefaultTemporalAddress = "localhost:7233"
	DefaultConnectAttempts = 3
	DefaultHTTPAddr        = ":8080"
	DefaultMongoDatabase   = "orchestration"
)

// Service resolves configuration keys. Lookups are read-only and safe for
// concurrent use.
type Service struct {
	file   map[string]string
	lookup func(string) (string, bool)
}

// New returns a service resolving keys from lookup first and file second.
// A nil lookup disables the environment.
func New(file map[string]string, lookup func(string) (string, bool)) *Service {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	f := make(map[string]string, len(file))
	for k, v := range file {
		f[strings.ToUpper(k)] = v
	}
	return &Service{file: f, lookup: lookup}
}

// Load reads the YAML file at path, if any, and overlays the environment.
// An empty path reads the file named by ORCHESTRA_CONFIG; when that is unset
// only the environment is used.
func Load(path string) (*Service, error) {
	if path == "" {
		path = os.Getenv(KeyConfigFile)
	}
	var file map[string]string
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		file, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return New(file, os.LookupEnv), nil
}

// Parse decodes a YAML document into flat upper-case keys.
func Parse(data []byte) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if err := flatten("", doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(prefix string, doc map[string]any, out map[string]string) error {
	for k, v := range doc {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]any:
			if err := flatten(key, val, out); err != nil {
				return err
			}
		case []any:
			return fmt.Errorf("key %s: lists are not supported", key)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(val)
		}
	}
	return nil
}

// Lookup returns the raw value of key and whether it is set.
func (s *Service) Lookup(key string) (string, bool) {
	if v, ok := s.lookup(key); ok && v != "" {
		return v, true
	}
	v, ok := s.file[key]
	return v, ok && v != ""
}

// GetString returns the value of key or def when unset.
func (s *Service) GetString(key, def string) string {
	if v, ok := s.Lookup(key); ok {
		return v
	}
	return def
}

// GetInt returns the value of key as an int or def when unset or invalid.
func (s *Service) GetInt(key string, def int) int {
	if v, ok := s.Lookup(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// GetFloat returns the value of key as a float64 or def when unset or invalid.
func (s *Service) GetFloat(key string, def float64) float64 {
	if v, ok := s.Lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// GetDuration returns the value of key as a duration or def when unset or
// invalid.
func (s *Service) GetDuration(key string, def time.Duration) time.Duration {
	if v, ok := s.Lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// GetBool returns the value of key as a bool or def when unset or invalid.
func (s *Service) GetBool(key string, def bool) bool {
	if v, ok := s.Lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// FileKeys returns the keys set by the YAML file, sorted.
func (s *Service) FileKeys() []string {
	keys := make([]string, 0, len(s.file))
	for k := range s.file {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
