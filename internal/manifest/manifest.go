// Package manifest records the artifacts of a build with their checksums.
package manifest

import (
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
)

const Filename = "manifest.json"

type Manifest struct {
	BuildID   string     `json:"buildId"`
	Target    string     `json:"target"`
	Version   string     `json:"version"`
	Mode      string     `json:"mode"`
	CreatedAt time.Time  `json:"createdAt"`
	Artifacts []Artifact `json:"artifacts"`
}

type Artifact struct {
	// Path relative to the output directory
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Checksum string `json:"checksum"`
}

// Build lists every file in dir except a previous manifest
func Build(dir, target, version, mode string) (*Manifest, error) {
	m := &Manifest{
		BuildID:   uuid.NewString(),
		Target:    target,
		Version:   version,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
	}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == Filename {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		sum, size, err := Checksum(path)
		if err != nil {
			return err
		}

		m.Artifacts = append(m.Artifacts, Artifact{
			Path:     filepath.ToSlash(rel),
			Bytes:    size,
			Checksum: sum,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts in %s: %w", dir, err)
	}

	slices.SortFunc(m.Artifacts, func(a, b Artifact) int {
		return cmp.Compare(a.Path, b.Path)
	})

	return m, nil
}

// Checksum returns the base58 encoded CRC-64/NVME of the file and its size
func Checksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := crc64nvme.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to checksum %s: %w", path, err)
	}

	sum := make([]byte, 8)
	binary.BigEndian.PutUint64(sum, h.Sum64())

	return base58.Encode(sum), size, nil
}

// Write stores the manifest in dir
func (m *Manifest) Write(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, Filename), data, 0o644) //nolint:gosec
}

// Read loads a manifest previously written to dir
func Read(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, Filename))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
