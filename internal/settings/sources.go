package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source is one entry in an optional YAML sources file, mirroring the
// teacher's ConfigSource shape: a named, independently enable-able
// subscription feed, listed alongside SUB_URLS instead of replacing it.
type Source struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// loadSourcesFile reads a YAML list of Source entries from path. It mirrors
// the teacher's loadSources: a missing or empty path is not an error (the
// file is optional), but a present, malformed file is.
func loadSourcesFile(path string) ([]Source, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file %s: %w", path, err)
	}
	var sources []Source
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	return sources, nil
}

// enabledURLs returns the URL of every enabled source.
func enabledURLs(sources []Source) []string {
	urls := make([]string, 0, len(sources))
	for _, s := range sources {
		if s.Enabled {
			urls = append(urls, s.URL)
		}
	}
	return urls
}
