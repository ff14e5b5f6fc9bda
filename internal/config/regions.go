package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
)

// ListingURL is the DPWH infrastructure listing page; the region name goes in
// the region query parameter.
const ListingURL = "https://apps2.dpwh.gov.ph/infra_projects/default.aspx"

//go:embed regions.yaml
var defaultRegions []byte

type regionSeed struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Active *bool  `yaml:"active"`
}

type regionFile struct {
	Regions []regionSeed `yaml:"regions"`
}

// RegionURL returns the listing page for a region name.
func RegionURL(name string) string {
	return ListingURL + "?region=" + url.PathEscape(name)
}

// DefaultRegions returns the embedded region list.
func DefaultRegions() ([]project.Region, error) {
	return ParseRegions(defaultRegions)
}

// LoadRegions reads a region seed file. An empty path returns the embedded
// list.
func LoadRegions(path string) ([]project.Region, error) {
	if path == "" {
		return DefaultRegions()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading regions file: %w", err)
	}
	return ParseRegions(data)
}

// ParseRegions decodes a YAML region list. Regions are active unless marked
// otherwise, and names must be unique.
func ParseRegions(data []byte) ([]project.Region, error) {
	var file regionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing regions: %w", err)
	}

	seen := make(map[string]bool, len(file.Regions))
	regions := make([]project.Region, 0, len(file.Regions))
	for i, seed := range file.Regions {
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			return nil, fmt.Errorf("region %d: name is required", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("region %q listed twice", name)
		}
		seen[name] = true

		r := project.Region{Name: name, URL: strings.TrimSpace(seed.URL), Active: true}
		if r.URL == "" {
			r.URL = RegionURL(name)
		}
		if seed.Active != nil {
			r.Active = *seed.Active
		}
		regions = append(regions, r)
	}
	return regions, nil
}
