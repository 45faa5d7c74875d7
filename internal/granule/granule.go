// Package granule defines the satellite product descriptors exchanged
// between sources, downloaders and the batch orchestrator, plus the
// metadata sidecar written next to downloaded products.
package granule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MetadataFile is the sidecar written into each downloaded granule
// directory. Downstream tooling skips it when enumerating product files.
const MetadataFile = "_granule.json"

// Asset is a single downloadable file belonging to a granule. Path, when
// set, is the target path relative to the granule directory; otherwise the
// layout is derived from the asset name and href. Optional assets do not
// fail the item when their download fails.
type Asset struct {
	Href      string `json:"href"`
	Path      string `json:"path,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Optional  bool   `json:"optional,omitempty"`
}

// ProductInfo describes the acquisition the granule belongs to.
type ProductInfo struct {
	Instrument      string    `json:"instrument"`
	Level           string    `json:"level"`
	ProductType     string    `json:"product_type"`
	AcquisitionTime time.Time `json:"acquisition_time"`
}

// Granule is one downloadable product item.
type Granule struct {
	ID        string           `json:"granule_id"`
	Source    string           `json:"source"`
	Assets    map[string]Asset `json:"assets"`
	Info      ProductInfo      `json:"info"`
	LocalPath string           `json:"local_path,omitempty"`
}

func (g *Granule) String() string {
	return fmt.Sprintf("Granule(id=%s)", g.ID)
}

// Validate checks that the granule carries everything a download needs.
func (g *Granule) Validate() error {
	if g.ID == "" {
		return errors.New("granule id is required")
	}
	if g.Source == "" {
		return fmt.Errorf("granule %s: source is required", g.ID)
	}
	if len(g.Assets) == 0 {
		return fmt.Errorf("granule %s: no assets to download", g.ID)
	}
	for name, asset := range g.Assets {
		if asset.Href == "" {
			return fmt.Errorf("granule %s: asset %s has no href", g.ID, name)
		}
	}
	return nil
}

// Save writes the metadata sidecar into dir.
func (g *Granule) Save(dir string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal granule %s: %w", g.ID, err)
	}

	path := filepath.Join(dir, MetadataFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write granule metadata: %w", err)
	}
	return nil
}

// Load reads the metadata sidecar from a downloaded granule directory.
func Load(dir string) (*Granule, error) {
	path := filepath.Join(dir, MetadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read granule metadata: %w", err)
	}

	var g Granule
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &g, nil
}

// LoadDir loads every downloaded granule found directly under root.
// Directories without a metadata sidecar are skipped.
func LoadDir(root string) ([]*Granule, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", root, err)
	}

	var granules []*Granule
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		g, err := Load(filepath.Join(root, entry.Name()))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		granules = append(granules, g)
	}
	return granules, nil
}

// LoadFile parses a JSON array of granule descriptors.
func LoadFile(path string) ([]*Granule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items file: %w", err)
	}

	var granules []*Granule
	if err := json.Unmarshal(data, &granules); err != nil {
		return nil, fmt.Errorf("failed to parse items file %s: %w", path, err)
	}
	return granules, nil
}

// BySource groups granules by source name, preserving input order inside
// each group.
func BySource(granules []*Granule) map[string][]*Granule {
	groups := make(map[string][]*Granule)
	for _, g := range granules {
		groups[g.Source] = append(groups[g.Source], g)
	}
	return groups
}
