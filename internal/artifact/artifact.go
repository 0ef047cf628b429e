package artifact

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/temcen/partnerrec/internal/collaborative"
	"github.com/temcen/partnerrec/internal/content"
	"github.com/temcen/partnerrec/internal/hybrid"
	"github.com/temcen/partnerrec/pkg/models"
)

const Format = "gob+gzip/v1"

// Artifact is everything one training run produced. It is written once and
// never modified; a new run produces a new artifact under a new RunID.
// Only slices are used so the gob encoding is byte-stable.
type Artifact struct {
	RunID         string
	TrainedAt     time.Time
	Weights       hybrid.Weights
	Collaborative *collaborative.State
	Content       *content.State
	// Partners is the catalog snapshot, sorted by id.
	Partners []models.Partner
	// Profiles keeps users with derived preferences, sorted by id.
	Profiles   []models.UserProfile
	Categories []string
	Tiers      []string
}

type ManifestWeights struct {
	CF float64 `json:"cf"`
	CB float64 `json:"cb"`
}

// Manifest is stored next to the blob and checked before decoding.
type Manifest struct {
	RunID     string          `json:"run_id"`
	TrainedAt time.Time       `json:"trained_at"`
	Format    string          `json:"format"`
	Checksum  string          `json:"checksum"`
	SizeBytes int64           `json:"size_bytes"`
	Users     int             `json:"users"`
	Partners  int             `json:"partners"`
	Weights   ManifestWeights `json:"weights"`
}

// Encode serialises a to a compressed blob. The checksum covers the
// uncompressed gob stream.
func Encode(a *Artifact) ([]byte, *Manifest, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(a); err != nil {
		return nil, nil, fmt.Errorf("encode artifact: %w", err)
	}
	sum := sha256.Sum256(raw.Bytes())

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw.Bytes()); err != nil {
		return nil, nil, fmt.Errorf("compress artifact: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, nil, fmt.Errorf("compress artifact: %w", err)
	}

	users := 0
	if a.Collaborative != nil {
		users = len(a.Collaborative.UserIDs)
	}

	return compressed.Bytes(), &Manifest{
		RunID:     a.RunID,
		TrainedAt: a.TrainedAt.UTC(),
		Format:    Format,
		Checksum:  hex.EncodeToString(sum[:]),
		SizeBytes: int64(compressed.Len()),
		Users:     users,
		Partners:  len(a.Partners),
		Weights:   ManifestWeights{CF: a.Weights.CF, CB: a.Weights.CB},
	}, nil
}

// Decode reverses Encode and refuses blobs whose checksum or format does
// not match the manifest.
func Decode(blob []byte, m *Manifest) (*Artifact, error) {
	if m.Format != Format {
		return nil, fmt.Errorf("unsupported artifact format %q", m.Format)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decompress artifact %s: %w", m.RunID, err)
	}
	defer gzr.Close()

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("decompress artifact %s: %w", m.RunID, err)
	}

	sum := sha256.Sum256(raw)
	if got := hex.EncodeToString(sum[:]); got != m.Checksum {
		return nil, fmt.Errorf("artifact %s checksum mismatch: manifest %s, blob %s", m.RunID, m.Checksum, got)
	}

	var a Artifact
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", m.RunID, err)
	}
	if a.RunID != m.RunID {
		return nil, fmt.Errorf("artifact run id %q does not match manifest %q", a.RunID, m.RunID)
	}
	return &a, nil
}
