// Package vkp implements the versioned knowledge package format and the
// install/rollback state machine over the vector and relational stores.
package vkp

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/classedge/sensei/pkg/models"
)

const checksumPrefix = "sha256:"

// checksumDocument is the package minus its checksum field; the digest is
// computed over its canonical JSON encoding.
type checksumDocument struct {
	Manifest models.VKPManifest `json:"manifest"`
	Chunks   []models.Chunk     `json:"chunks"`
}

// ComputeChecksum digests the manifest and chunk data.
func ComputeChecksum(pkg *models.VKP) (string, error) {
	data, err := json.Marshal(checksumDocument{Manifest: pkg.Manifest, Chunks: pkg.Chunks})
	if err != nil {
		return "", fmt.Errorf("encoding checksum document: %w", err)
	}
	sum := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(sum[:]), nil
}

// Parse decodes and structurally validates a serialized package. The
// checksum is not verified here; see Verify.
func Parse(data []byte) (*models.VKP, error) {
	var pkg models.VKP
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, models.NewKindError(models.KindParseError, err)
	}

	m := pkg.Manifest
	switch {
	case m.Subject == "":
		return nil, models.Kindf(models.KindParseError, "manifest missing subject")
	case m.Grade == "":
		return nil, models.Kindf(models.KindParseError, "manifest missing grade")
	case len(pkg.Chunks) == 0:
		return nil, models.Kindf(models.KindParseError, "package has no chunks")
	case m.TotalChunks != len(pkg.Chunks):
		return nil, models.Kindf(models.KindParseError,
			"manifest declares %d chunks, package carries %d", m.TotalChunks, len(pkg.Chunks))
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return nil, models.Kindf(models.KindParseError, "manifest version %q: %v", m.Version, err)
	}

	dim := pkg.Dimension()
	for _, c := range pkg.Chunks {
		if c.ID == "" {
			return nil, models.Kindf(models.KindParseError, "chunk without id")
		}
		if len(c.Embedding) != dim {
			return nil, models.Kindf(models.KindParseError,
				"chunk %s embedding dimension %d, expected %d", c.ID, len(c.Embedding), dim)
		}
	}
	return &pkg, nil
}

// Verify recomputes the checksum and compares it to the declared one.
func Verify(pkg *models.VKP) error {
	want, err := ComputeChecksum(pkg)
	if err != nil {
		return models.NewKindError(models.KindParseError, err)
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(pkg.Checksum)) != 1 {
		return models.Kindf(models.KindChecksumMismatch,
			"declared %s, computed %s", pkg.Checksum, want)
	}
	return nil
}

// Serialize stamps the checksum and encodes the package. Used by the
// backup path and by tests building fixtures.
func Serialize(pkg *models.VKP) ([]byte, error) {
	sum, err := ComputeChecksum(pkg)
	if err != nil {
		return nil, err
	}
	stamped := *pkg
	stamped.Checksum = sum
	data, err := json.Marshal(&stamped)
	if err != nil {
		return nil, fmt.Errorf("encoding package: %w", err)
	}
	return data, nil
}
