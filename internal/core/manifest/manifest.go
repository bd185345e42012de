// Package manifest assembles the checksummed artifact index for one
// deployment. Checksums are SHA-256 over the file's encoded text, so
// byte-identical content hashes identically across runs and platforms.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/leger-labs/leger/internal/core/domain"
)

// SchemaVersion is the current manifest document version.
const SchemaVersion = "1"

// Filename is the fixed manifest object name, uploaded after every other
// artifact has succeeded.
const Filename = "manifest.json"

// Build assembles a manifest for the rendered files. generatedAt is passed
// in by the caller so the build itself stays a pure function of its inputs.
func Build(releaseID, userUUID, schemaVersion string, files []domain.RenderedFile, generatedAt time.Time) domain.DeploymentManifest {
	m := domain.DeploymentManifest{
		Version:     schemaVersion,
		ReleaseID:   releaseID,
		UserUUID:    userUUID,
		GeneratedAt: generatedAt.UTC(),
		Files:       make([]domain.ManifestFile, 0, len(files)),

		// TODO: populate from the per-service Secret= mounts once consumers
		// agree on the semantics.
		RequiredSecrets: []string{},
	}

	for _, f := range files {
		m.Files = append(m.Files, domain.ManifestFile{
			Name:     f.Name,
			Type:     f.Type,
			Checksum: Checksum(f.Content),
			Size:     int64(len(f.Content)),
		})
	}
	return m
}

// Checksum returns the hex-encoded SHA-256 digest of the content's bytes.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
