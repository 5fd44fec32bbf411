// Copyright 2015 Light Code Labs, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the immutable, process-wide configuration model
// described in spec section 3, plus the loaders (line-grammar and YAML)
// that build it from a file on disk.
package config

import (
	"fmt"
)

// Config is the top-level, immutable value describing every listen
// endpoint webserv will serve. Built once at startup (or once per reload
// generation); never mutated after construction.
type Config struct {
	Servers []*Server `yaml:"servers"`
}

// Server is one listen endpoint with its own document root, error pages
// and Location rules.
type Server struct {
	Host        string              `yaml:"host"`
	Port        int                 `yaml:"port"`
	Root        string              `yaml:"root"`
	ErrorPages  map[int]string      `yaml:"error_pages"`
	Locations   map[string]*Location `yaml:"locations"`
	// locationOrder lists the Location prefixes. finalize fills it by
	// ranging over the Locations map, so its order is not the declaration
	// order and may differ between runs.
	locationOrder []string
}

// Location is one `location <prefix> { ... }` rule.
type Location struct {
	Prefix         string            `yaml:"-"`
	Root           string            `yaml:"root"`
	Index          string            `yaml:"index"`
	Autoindex      bool              `yaml:"autoindex"`
	Methods        map[string]bool   `yaml:"-"`
	MethodList     []string          `yaml:"methods"`
	UploadPath     string            `yaml:"upload_path"`
	CGIInterpreter string            `yaml:"cgi_path"`
	FastCGIPass    string            `yaml:"fastcgi_pass"`
	MaxBodySize    int64             `yaml:"max_body_size"`
	Redirects      map[int]string    `yaml:"redirects"`
	ErrorPages     map[int]string    `yaml:"error_pages"`
}

// AllowsMethod reports whether m is permitted by this Location. An empty
// Methods set means "no restriction" per spec section 4.3.
func (l *Location) AllowsMethod(m string) bool {
	if len(l.Methods) == 0 {
		return true
	}
	return l.Methods[m]
}

// AllowedMethods returns the sorted-by-declaration list of methods for
// the Allow header on a 405 response.
func (l *Location) AllowedMethods() []string {
	return l.MethodList
}

// EffectiveRoot returns the document root to use for this Location: its
// own Root override if set, else the ServerConfig's Root (spec section
// 4.4, "Merge roots").
func (l *Location) EffectiveRoot(serverRoot string) string {
	if l.Root != "" {
		return l.Root
	}
	return serverRoot
}

// EffectiveMaxBodySize returns 0 for "unlimited" verbatim -- see
// DESIGN.md's resolution of the max_body_size open question: 0 always
// means unlimited, never "zero bytes allowed".
func (l *Location) EffectiveMaxBodySize() int64 {
	return l.MaxBodySize
}

// Validate checks the invariants of spec section 3: port > 0, root
// non-empty, location prefixes unique (guaranteed by the map type itself).
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("config: no servers defined")
	}
	for i, s := range c.Servers {
		if s.Port <= 0 {
			return fmt.Errorf("config: server %d: port must be > 0, got %d", i, s.Port)
		}
		if s.Root == "" {
			return fmt.Errorf("config: server %d: root must not be empty", i)
		}
		for prefix, loc := range s.Locations {
			if loc.MaxBodySize < 0 {
				return fmt.Errorf("config: server %d location %q: max_body_size must be >= 0", i, prefix)
			}
		}
	}
	return nil
}

// finalize derives the runtime-only fields (Methods set, Prefix, location
// declaration order) after a Config has been populated by any loader.
func (c *Config) finalize() {
	for _, s := range c.Servers {
		s.locationOrder = s.locationOrder[:0]
		for prefix, loc := range s.Locations {
			loc.Prefix = prefix
			loc.Methods = make(map[string]bool, len(loc.MethodList))
			for _, m := range loc.MethodList {
				loc.Methods[m] = true
			}
			s.locationOrder = append(s.locationOrder, prefix)
		}
	}
}
