package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceDomain describes one documentation site to ingest. Immutable for the
// duration of an ingestion run.
type SourceDomain struct {
	Product        string   `yaml:"product"`
	Allow          []string `yaml:"allow"`
	Deny           []string `yaml:"deny"`
	VersionLabel   string   `yaml:"version_label"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	SitemapURLs    []string `yaml:"sitemap_urls"`
	ManualURLsFile string   `yaml:"manual_urls_file"`
}

type sourcesFile struct {
	Domains []SourceDomain `yaml:"domains"`
}

// LoadSources reads the source domain definitions. A missing or malformed
// file is a fatal configuration error.
func LoadSources(path string) ([]SourceDomain, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is from application config, not user input
	if err != nil {
		return nil, fmt.Errorf("%w: sources file %s: %v", ErrMissingRequired, path, err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: sources file %s: %v", ErrMissingRequired, path, err)
	}

	for i := range f.Domains {
		f.Domains[i].Product = strings.TrimSpace(f.Domains[i].Product)
		if f.Domains[i].Product == "" {
			return nil, fmt.Errorf("%w: domains[%d].product", ErrMissingRequired, i)
		}
		if f.Domains[i].RateLimitRPS == 0 {
			f.Domains[i].RateLimitRPS = 1.0
		}
	}
	return f.Domains, nil
}

// FilterSources narrows the domain list to one product, or returns all for
// "all". An unknown product is a fatal configuration error.
func FilterSources(sources []SourceDomain, product string) ([]SourceDomain, error) {
	if product == "" || product == "all" {
		return sources, nil
	}
	target := strings.ToLower(strings.TrimSpace(product))
	for _, s := range sources {
		if strings.ToLower(s.Product) == target {
			return []SourceDomain{s}, nil
		}
	}
	known := make([]string, 0, len(sources))
	for _, s := range sources {
		known = append(known, s.Product)
	}
	return nil, fmt.Errorf("%w: product %q not found in sources: %v", ErrMissingRequired, product, known)
}
