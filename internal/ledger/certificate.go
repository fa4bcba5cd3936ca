package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ComputeHash returns the hex-encoded SHA-256 digest of content.
// Same bytes always produce the same digest regardless of filename or origin.
func ComputeHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Certificate is the integrity record anchored to the ledger file service
// alongside each uploaded document. It never contains the document bytes.
type Certificate struct {
	Version      string `json:"version"`
	Hash         string `json:"hash"`
	Algorithm    string `json:"algorithm"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	StorageURL   string `json:"storageUrl"`
	UploaderID   uint   `json:"uploaderId"`
	UploaderRole string `json:"uploaderRole"`
	EntityType   string `json:"entityType"`
	EntityID     uint   `json:"entityId,omitempty"`
	IssuedAt     string `json:"issuedAt"`
}

// BuildCertificate assembles an integrity certificate for content. It does
// no I/O; EntityID may be zero when the database row does not exist yet and
// back-filled by the caller before anchoring.
func BuildCertificate(content []byte, filename, mimeType, storageURL string, uploaderID uint, uploaderRole, entityType string, entityID uint) Certificate {
	return Certificate{
		Version:      "1.0",
		Hash:         ComputeHash(content),
		Algorithm:    "sha256",
		Filename:     filename,
		MimeType:     mimeType,
		Size:         int64(len(content)),
		StorageURL:   storageURL,
		UploaderID:   uploaderID,
		UploaderRole: uploaderRole,
		EntityType:   entityType,
		EntityID:     entityID,
		IssuedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}
