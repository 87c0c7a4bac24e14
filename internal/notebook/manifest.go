package notebook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

// Manifest declares the executable cells of one documentation page.
type Manifest struct {
	ID    string     `yaml:"id" json:"id"`
	Title string     `yaml:"title,omitempty" json:"title,omitempty"`
	Cells []CellSpec `yaml:"cells" json:"cells"`
}

// CellSpec is one executable cell: its id, source code, and the ids of the
// cells that must run successfully before it.
type CellSpec struct {
	ID    string   `yaml:"id" json:"id"`
	Code  string   `yaml:"code" json:"code"`
	Needs []string `yaml:"needs,omitempty" json:"needs,omitempty"`
}

// ParseManifest parses manifest bytes, choosing the codec from the file
// extension: .yaml/.yml or .json.
func ParseManifest(filename string, data []byte) (*Manifest, error) {
	var m Manifest

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", filename, err)
		}
	case ".json":
		if err := sonic.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", filename, err)
		}
	default:
		return nil, fmt.Errorf("manifest %s: unsupported extension", filename)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", filename, err)
	}
	return &m, nil
}

// Validate checks structural invariants: a manifest id, unique non-empty
// cell ids, and no cell depending directly on itself. Cross-manifest
// prerequisites are allowed, so unknown ids in Needs are not rejected here.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest id is required")
	}

	seen := make(map[string]bool, len(m.Cells))
	for _, c := range m.Cells {
		if c.ID == "" {
			return fmt.Errorf("cell id is required")
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate cell id: %s", c.ID)
		}
		seen[c.ID] = true

		for _, need := range c.Needs {
			if need == c.ID {
				return fmt.Errorf("cell %s depends on itself", c.ID)
			}
		}
	}
	return nil
}

// LoadDir parses every manifest file in a directory (non-recursive).
func LoadDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest dir: %w", err)
	}

	var manifests []*Manifest
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", entry.Name(), err)
		}
		m, err := ParseManifest(entry.Name(), data)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
