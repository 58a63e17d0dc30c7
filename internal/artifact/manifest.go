// Package artifact persists trained model sets on disk. Each set lives in its
// own version directory and becomes authoritative only once the CURRENT
// pointer is swapped to it.
package artifact

import (
	"fmt"
	"os"
	"time"

	"github.com/Veraticus/affinity/internal/codec"
	"github.com/Veraticus/affinity/internal/ncf"
	"gopkg.in/yaml.v3"
)

// File names inside a version directory.
const (
	UserCodecFile    = "user_codec.json"
	ProductCodecFile = "product_codec.json"
	ModelFile        = "model.bin.zst"
	ManifestFile     = "manifest.yaml"

	currentFile = "CURRENT"
)

// FormatVersion is bumped whenever the on-disk layout changes.
const FormatVersion = 1

// Manifest describes one published artifact set.
type Manifest struct {
	CreatedAt     time.Time         `yaml:"created_at"`
	Checksums     map[string]string `yaml:"checksums"`
	Version       string            `yaml:"version"`
	Hidden        []int             `yaml:"hidden"`
	FormatVersion int               `yaml:"format_version"`
	Users         int               `yaml:"users"`
	Products      int               `yaml:"products"`
	EmbeddingDim  int               `yaml:"embedding_dim"`
	Interactions  int               `yaml:"interactions"`
	Epochs        int               `yaml:"epochs"`
	FinalLoss     float64           `yaml:"final_loss"`
	ValLoss       float64           `yaml:"val_loss,omitempty"`
	ValMAE        float64           `yaml:"val_mae,omitempty"`
}

// Set is a codec and model pair sharing one version tag.
type Set struct {
	Codec    *codec.Codec
	Model    *ncf.Model
	Manifest Manifest
}

// VersionInfo summarizes a version directory for listing.
type VersionInfo struct {
	Manifest Manifest
	Current  bool
}

func (s *Set) validate() error {
	if s == nil || s.Codec == nil || s.Model == nil {
		return fmt.Errorf("%w: incomplete artifact set", ErrInvalidSet)
	}
	if err := validateVersion(s.Manifest.Version); err != nil {
		return err
	}
	return checkDimensions(s.Codec, s.Model)
}

func checkDimensions(c *codec.Codec, m *ncf.Model) error {
	if c.Users.Len() != m.Users {
		return fmt.Errorf("%w: user codec has %d entries, model has %d",
			ErrDimensionMismatch, c.Users.Len(), m.Users)
	}
	if c.Products.Len() != m.Products {
		return fmt.Errorf("%w: product codec has %d entries, model has %d",
			ErrDimensionMismatch, c.Products.Len(), m.Products)
	}
	return nil
}

func writeManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return writeFileSync(path, data)
}

func readManifest(path string) (*Manifest, error) {
	// #nosec G304 - path is built from the store directory and a validated version
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}
