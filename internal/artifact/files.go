package artifact

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Veraticus/affinity/internal/codec"
	"github.com/Veraticus/affinity/internal/ncf"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// weightsMagic prefixes the decompressed weights stream.
var weightsMagic = []byte("AFNCF\x00\x00\x01")

const maxTagLen = 256

type codecFile struct {
	Version string   `json:"version"`
	Kind    string   `json:"kind"`
	Classes []string `json:"classes"`
}

func writeCodec(path, version, kind string, enc *codec.Encoder) error {
	data, err := json.MarshalIndent(codecFile{
		Version: version,
		Kind:    kind,
		Classes: enc.Classes(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s codec: %w", kind, err)
	}
	return writeFileSync(path, data)
}

func readCodec(path, version, kind string) (*codec.Encoder, error) {
	// #nosec G304 - path is built from the store directory and a validated version
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f codecFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode %s codec: %w", kind, err)
	}
	if f.Kind != kind {
		return nil, fmt.Errorf("%w: %s holds a %q codec", ErrVersionMismatch, filepath.Base(path), f.Kind)
	}
	if f.Version != version {
		return nil, fmt.Errorf("%w: %s codec is %q, manifest is %q", ErrVersionMismatch, kind, f.Version, version)
	}
	return codec.FromClasses(f.Classes)
}

func writeWeights(path, version string, m *ncf.Model) error {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	w := bufio.NewWriter(enc)
	if _, err := w.Write(weightsMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(version))); err != nil {
		return err
	}
	if _, err := w.WriteString(version); err != nil {
		return err
	}
	if _, err := m.WriteTo(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish zstd stream: %w", err)
	}
	return writeFileSync(path, buf.Bytes())
}

func readWeights(path, version string) (*ncf.Model, error) {
	// #nosec G304 - path is built from the store directory and a validated version
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Error("failed to close weights file", "error", closeErr)
		}
	}()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open zstd stream: %w", err)
	}
	defer dec.Close()

	r := bufio.NewReader(dec)
	magic := make([]byte, len(weightsMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("failed to read weights header: %w", err)
	}
	if !bytes.Equal(magic, weightsMagic) {
		return nil, fmt.Errorf("%w: unrecognized weights header", ncf.ErrCorruptModel)
	}

	var tagLen uint16
	if err := binary.Read(r, binary.LittleEndian, &tagLen); err != nil {
		return nil, fmt.Errorf("failed to read weights version: %w", err)
	}
	if tagLen > maxTagLen {
		return nil, fmt.Errorf("%w: version tag of %d bytes", ncf.ErrCorruptModel, tagLen)
	}
	tag := make([]byte, tagLen)
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, fmt.Errorf("failed to read weights version: %w", err)
	}
	if string(tag) != version {
		return nil, fmt.Errorf("%w: weights are %q, manifest is %q", ErrVersionMismatch, tag, version)
	}

	return ncf.ReadModel(r)
}

// writeFileSync writes data to a new file and flushes it to stable storage.
func writeFileSync(path string, data []byte) error {
	// #nosec G304 - path is inside the store's staging directory
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func fileChecksum(path string) (string, error) {
	// #nosec G304 - path is built from the store directory and a validated version
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Error("failed to close file after checksum", "error", closeErr, "path", path)
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func syncDir(dir string) error {
	// #nosec G304 - dir is the store directory
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

// copyFile copies src to dst through a temporary file and a rename.
func copyFile(src, dst string) error {
	// #nosec G304 - src is inside the store directory
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			slog.Error("failed to close source file", "error", closeErr)
		}
	}()

	tmpDst := dst + ".tmp"
	// #nosec G304 - dst is chosen by the operator
	destination, err := os.Create(tmpDst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destination, source); err != nil {
		if closeErr := destination.Close(); closeErr != nil {
			slog.Error("failed to close destination file after copy error", "error", closeErr)
		}
		if rmErr := os.Remove(tmpDst); rmErr != nil {
			slog.Error("failed to remove temporary file after copy error", "error", rmErr)
		}
		return err
	}

	if err := destination.Close(); err != nil {
		if removeErr := os.Remove(tmpDst); removeErr != nil {
			slog.Error("failed to remove temporary file after close error", "error", removeErr)
		}
		return err
	}

	return os.Rename(tmpDst, dst)
}
