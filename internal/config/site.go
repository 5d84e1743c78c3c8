package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SiteFile is the YAML form of the target site definition.
type SiteFile struct {
	URL      string   `yaml:"url"`
	Domain   string   `yaml:"domain"`
	Hosts    []string `yaml:"hosts"`
	Endpoint string   `yaml:"endpoint"`
	Cookies  struct {
		CSRF string `yaml:"csrf"`
		Auth string `yaml:"auth"`
	} `yaml:"cookies"`
	CSRFHeader string `yaml:"csrf_header"`
}

// LoadSiteFile reads and validates a site YAML file. Returns an
// os.ErrNotExist-wrapped error if the file is absent (caller silently skips
// in that case).
func LoadSiteFile(path string) (*SiteFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("site config: %w", err)
	}
	var site SiteFile
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("site config: %w", err)
	}
	if site.URL == "" {
		return nil, fmt.Errorf("site config: url is required")
	}
	if site.Domain == "" {
		return nil, fmt.Errorf("site config: domain is required")
	}
	for i, h := range site.Hosts {
		if h == "" {
			return nil, fmt.Errorf("site config: hosts[%d] is empty", i)
		}
	}
	return &site, nil
}

// apply overrides the env-derived site settings with the non-empty fields
// of the file.
func (s *SiteFile) apply(cfg *Config) {
	cfg.SiteURL = s.URL
	cfg.SiteDomain = s.Domain
	if len(s.Hosts) > 0 {
		cfg.SiteHosts = s.Hosts
	}
	if s.Endpoint != "" {
		cfg.SessionEndpoint = s.Endpoint
	}
	if s.Cookies.CSRF != "" {
		cfg.CSRFCookie = s.Cookies.CSRF
	}
	if s.Cookies.Auth != "" {
		cfg.AuthCookie = s.Cookies.Auth
	}
	if s.CSRFHeader != "" {
		cfg.CSRFHeader = s.CSRFHeader
	}
}
