// Package config loads the YAML configuration document described in
// spec section 6: the mbstf.* key tree recognised at process start.
// Grounded on cmd/warren/apply.go's use of gopkg.in/yaml.v3 for
// manifest decoding, generalised here into a typed Load(path).
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerAddr is the common shape shared by distSessionAPI, httpPushIngest,
// and rtpIngest: a listen address, an advertised address list, a port,
// and TLS material.
type ServerAddr struct {
	Addr      []string `yaml:"addr,omitempty"`
	Name      []string `yaml:"name,omitempty"`
	Advertise []string `yaml:"advertise,omitempty"`
	Port      int      `yaml:"port,omitempty"`
	Dev       string   `yaml:"dev,omitempty"`
	Family    string   `yaml:"family,omitempty"`
	TLSKey    string   `yaml:"key,omitempty"`
	TLSPem    string   `yaml:"pem,omitempty"`
}

// CacheControl mirrors mbstf.serverResponseCacheControl. Both camelCase
// and PascalCase spellings of each key are accepted at parse time (see
// rawConfig.resolve); the camelCase form is preferred when both are
// present, per spec section 9's decided open question on key casing.
type CacheControl struct {
	DistMaxAge   int `yaml:"distMaxAge"`
	ObjectMaxAge int `yaml:"ObjectMaxAge"`
}

// MBSTF is the mbstf.* key tree.
type MBSTF struct {
	DistSessionAPI          ServerAddr             `yaml:"distSessionAPI"`
	HTTPPushIngest          ServerAddr             `yaml:"httpPushIngest"`
	RTPIngest               ServerAddr             `yaml:"rtpIngest"`
	ServerResponseCacheCtrl CacheControl           `yaml:"serverResponseCacheControl"`
	ServiceName             string                 `yaml:"service_name"`
	SBI                     map[string]any         `yaml:"sbi,omitempty"`
	Discovery               map[string]any         `yaml:"discovery,omitempty"`
}

// Config is the top-level YAML document.
type Config struct {
	MBSTF MBSTF `yaml:"mbstf"`
}

// defaults applied when the corresponding key is absent or zero, per
// spec section 6.
const (
	defaultDistMaxAge   = 60
	defaultObjectMaxAge = 60
)

// Load reads and parses the YAML document at path. Missing
// distMaxAge/ObjectMaxAge default to 60 seconds each; a document that
// sets both the camelCase and PascalCase spelling of a
// serverResponseCacheControl key keeps the camelCase value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document's bytes into a Config, applying the same
// defaulting and key-casing rules as Load.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	cfg := raw.resolve()
	return cfg, nil
}

// rawConfig decodes the document into a generic map first so that
// mbstf.serverResponseCacheControl's inconsistently-cased keys
// (distMaxAge vs DistMaxAge, ObjectMaxAge vs objectMaxAge) can be
// resolved case-insensitively before settling into the typed Config.
type rawConfig struct {
	MBSTF map[string]any `yaml:"mbstf"`
}

func (r rawConfig) resolve() *Config {
	cfg := &Config{}
	cfg.MBSTF.ServerResponseCacheCtrl = CacheControl{
		DistMaxAge:   defaultDistMaxAge,
		ObjectMaxAge: defaultObjectMaxAge,
	}
	if r.MBSTF == nil {
		return cfg
	}

	cfg.MBSTF.ServiceName = stringField(r.MBSTF, "service_name")
	cfg.MBSTF.DistSessionAPI = serverAddrField(r.MBSTF, "distSessionAPI")
	cfg.MBSTF.HTTPPushIngest = serverAddrField(r.MBSTF, "httpPushIngest")
	cfg.MBSTF.RTPIngest = serverAddrField(r.MBSTF, "rtpIngest")
	cfg.MBSTF.SBI = mapField(r.MBSTF, "sbi")
	cfg.MBSTF.Discovery = mapField(r.MBSTF, "discovery")

	if m := mapField(r.MBSTF, "serverResponseCacheControl"); m != nil {
		if v, ok := intKeyCI(m, "distMaxAge"); ok {
			cfg.MBSTF.ServerResponseCacheCtrl.DistMaxAge = v
		}
		if v, ok := intKeyCI(m, "objectMaxAge"); ok {
			cfg.MBSTF.ServerResponseCacheCtrl.ObjectMaxAge = v
		}
	}
	return cfg
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func mapField(m map[string]any, key string) map[string]any {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	out, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return out
}

func serverAddrField(m map[string]any, key string) ServerAddr {
	sub := mapField(m, key)
	if sub == nil {
		return ServerAddr{}
	}
	return ServerAddr{
		Addr:      stringSliceField(sub, "addr"),
		Name:      stringSliceField(sub, "name"),
		Advertise: stringSliceField(sub, "advertise"),
		Port:      intField(sub, "port"),
		Dev:       stringField(sub, "dev"),
		Family:    stringField(sub, "family"),
		TLSKey:    stringField(sub, "key"),
		TLSPem:    stringField(sub, "pem"),
	}
}

func stringSliceField(m map[string]any, key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	default:
		return 0
	}
}

// intKeyCI looks up key in m, preferring an exact match on the given
// (camelCase) spelling before falling back to a case-insensitive scan
// for any other spelling present (e.g. PascalCase), per spec section
// 9's decided key-casing question.
func intKeyCI(m map[string]any, key string) (int, bool) {
	if v, ok := m[key]; ok {
		if n, ok := v.(int); ok {
			return n, true
		}
	}
	for k, v := range m {
		if k == key || !strings.EqualFold(k, key) {
			continue
		}
		if n, ok := v.(int); ok {
			return n, true
		}
	}
	return 0, false
}
