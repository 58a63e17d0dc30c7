package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Veraticus/affinity/internal/codec"
	"github.com/Veraticus/affinity/internal/common"
	"github.com/google/uuid"
)

// Common errors. Load wraps all of them in common.ErrArtifactsUnavailable.
var (
	ErrInvalidSet        = errors.New("invalid artifact set")
	ErrVersionMismatch   = errors.New("artifact version mismatch")
	ErrDimensionMismatch = errors.New("artifact dimension mismatch")
	ErrChecksumMismatch  = errors.New("artifact checksum mismatch")
	ErrVersionExists     = errors.New("artifact version already exists")
)

const stagingPrefix = ".staging-"

// Store manages version directories under a single root.
type Store struct {
	dir  string
	keep int
}

// NewStore opens the artifact directory, creating it when needed. keep is the
// number of versions retained after a publish; values below one keep only the
// current version.
func NewStore(dir string, keep int) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: artifact directory is empty", common.ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Store{dir: dir, keep: max(keep, 1)}, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

func validateVersion(version string) error {
	if _, err := uuid.Parse(version); err != nil {
		return fmt.Errorf("%w: version %q is not a UUID", ErrInvalidSet, version)
	}
	return nil
}

// Publish writes the set into a fresh version directory and then makes it
// current. On failure the previous current set stays in place.
func (s *Store) Publish(ctx context.Context, set *Set) (*Manifest, error) {
	if err := set.validate(); err != nil {
		return nil, err
	}
	version := set.Manifest.Version
	final := filepath.Join(s.dir, version)
	if _, err := os.Stat(final); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionExists, version)
	}

	staging, err := os.MkdirTemp(s.dir, stagingPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	published := false
	defer func() {
		if published {
			return
		}
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			slog.Error("failed to remove staging directory", "error", rmErr, "path", staging)
		}
	}()

	manifest, err := s.writeSet(ctx, staging, set)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.Rename(staging, final); err != nil {
		return nil, fmt.Errorf("failed to move staged artifacts: %w", err)
	}
	published = true

	if err := s.setCurrent(version); err != nil {
		if rmErr := os.RemoveAll(final); rmErr != nil {
			slog.Error("failed to remove unpublished version", "error", rmErr, "version", version)
		}
		return nil, err
	}

	s.prune(version)
	return manifest, nil
}

func (s *Store) writeSet(ctx context.Context, dir string, set *Set) (*Manifest, error) {
	version := set.Manifest.Version
	steps := []struct {
		file  string
		write func(string) error
	}{
		{UserCodecFile, func(p string) error { return writeCodec(p, version, "user", set.Codec.Users) }},
		{ProductCodecFile, func(p string) error { return writeCodec(p, version, "product", set.Codec.Products) }},
		{ModelFile, func(p string) error { return writeWeights(p, version, set.Model) }},
	}

	manifest := set.Manifest
	manifest.FormatVersion = FormatVersion
	manifest.Users = set.Model.Users
	manifest.Products = set.Model.Products
	manifest.EmbeddingDim = set.Model.Dim
	manifest.Hidden = set.Model.Hidden()
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}
	manifest.Checksums = make(map[string]string, len(steps))

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, step.file)
		if err := step.write(path); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", step.file, err)
		}
		sum, err := fileChecksum(path)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum %s: %w", step.file, err)
		}
		manifest.Checksums[step.file] = sum
	}

	if err := writeManifest(filepath.Join(dir, ManifestFile), manifest); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", ManifestFile, err)
	}
	if err := syncDir(dir); err != nil {
		return nil, fmt.Errorf("failed to sync staging directory: %w", err)
	}
	return &manifest, nil
}

func (s *Store) setCurrent(version string) error {
	path := filepath.Join(s.dir, currentFile)
	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	if err := writeFileSync(tmp, []byte(version+"\n")); err != nil {
		return fmt.Errorf("failed to write current pointer: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to swap current pointer: %w", err)
	}
	return syncDir(s.dir)
}

func (s *Store) currentVersion() (string, error) {
	// #nosec G304 - fixed file name inside the store directory
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(string(data))
	if err := validateVersion(version); err != nil {
		return "", err
	}
	return version, nil
}

// Current returns the manifest of the current set.
func (s *Store) Current(_ context.Context) (*Manifest, error) {
	version, err := s.currentVersion()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrArtifactsUnavailable, err)
	}
	m, err := readManifest(filepath.Join(s.dir, version, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrArtifactsUnavailable, err)
	}
	return m, nil
}

// Load reads the current set. Either every artifact loads and agrees on
// version and dimensions, or common.ErrArtifactsUnavailable is returned.
func (s *Store) Load(ctx context.Context) (*Set, error) {
	set, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrArtifactsUnavailable, err)
	}
	return set, nil
}

func (s *Store) load(ctx context.Context) (*Set, error) {
	version, err := s.currentVersion()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.dir, version)

	manifest, err := readManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	if manifest.Version != version {
		return nil, fmt.Errorf("%w: manifest is %q, current is %q", ErrVersionMismatch, manifest.Version, version)
	}
	if manifest.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d, expected %d", ErrInvalidSet, manifest.FormatVersion, FormatVersion)
	}

	for _, name := range []string{UserCodecFile, ProductCodecFile, ModelFile} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, err := fileChecksum(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if want := manifest.Checksums[name]; sum != want {
			return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, name)
		}
	}

	users, err := readCodec(filepath.Join(dir, UserCodecFile), version, "user")
	if err != nil {
		return nil, err
	}
	products, err := readCodec(filepath.Join(dir, ProductCodecFile), version, "product")
	if err != nil {
		return nil, err
	}
	model, err := readWeights(filepath.Join(dir, ModelFile), version)
	if err != nil {
		return nil, err
	}

	c := &codec.Codec{Users: users, Products: products}
	if err := checkDimensions(c, model); err != nil {
		return nil, err
	}
	if manifest.Users != model.Users || manifest.Products != model.Products || manifest.EmbeddingDim != model.Dim {
		return nil, fmt.Errorf("%w: manifest shape differs from weights", ErrDimensionMismatch)
	}

	return &Set{Manifest: *manifest, Codec: c, Model: model}, nil
}

// Versions lists the version directories, newest first.
func (s *Store) Versions(_ context.Context) ([]VersionInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}
	current, _ := s.currentVersion()

	versions := make([]VersionInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		m, err := readManifest(filepath.Join(s.dir, entry.Name(), ManifestFile))
		if err != nil {
			// Skip directories without a readable manifest
			continue
		}
		versions = append(versions, VersionInfo{Manifest: *m, Current: m.Version == current})
	}

	slices.SortFunc(versions, func(a, b VersionInfo) int {
		return b.Manifest.CreatedAt.Compare(a.Manifest.CreatedAt)
	})
	return versions, nil
}

// Size returns the bytes on disk used by one version directory.
func (s *Store) Size(version string) (int64, error) {
	if err := validateVersion(version); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, version))
	if err != nil {
		return 0, err
	}
	var total int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
	}
	return total, nil
}

// prune removes all but the newest keep versions. The current version is
// always retained.
func (s *Store) prune(current string) {
	versions, err := s.Versions(context.Background())
	if err != nil {
		slog.Warn("failed to list artifact versions for pruning", "error", err)
		return
	}

	kept := 0
	for _, v := range versions {
		if v.Manifest.Version == current {
			kept++
			continue
		}
		if kept < s.keep {
			kept++
			continue
		}
		if err := validateVersion(v.Manifest.Version); err != nil {
			continue
		}
		path := filepath.Join(s.dir, v.Manifest.Version)
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("failed to prune artifact version", "error", err, "version", v.Manifest.Version)
			continue
		}
		slog.Debug("pruned artifact version", "version", v.Manifest.Version)
	}
}

// Export copies the current set into dest after verifying that it loads.
func (s *Store) Export(ctx context.Context, dest string) (*Manifest, error) {
	manifest, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dest, 0750); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	src := filepath.Join(s.dir, manifest.Version)
	for _, name := range []string{UserCodecFile, ProductCodecFile, ModelFile, ManifestFile} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := copyFile(filepath.Join(src, name), filepath.Join(dest, name)); err != nil {
			return nil, fmt.Errorf("failed to export %s: %w", name, err)
		}
	}
	return manifest, nil
}
