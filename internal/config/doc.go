// Package config decodes canopy scenarios.
//
// A scenario is a YAML document (or the frontmatter of a loam document) decoded first
// into a generic map and then into Scenario with mapstructure, so both sources share
// one set of keys, defaults and validation rules.
package config
