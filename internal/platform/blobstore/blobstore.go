// Package blobstore stores uploaded files: patient attachments, medical
// documents sent for OCR and local model artifacts.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrMissingFileName = errors.New("file name is required")
	ErrBadCategory     = errors.New("unknown blob category")
)

// Categories.
const (
	CategoryPatientFile   = "patient-file"
	CategoryDocument      = "document"
	CategoryModelArtifact = "model-artifact"
)

var allowedCategories = map[string]bool{
	CategoryPatientFile:   true,
	CategoryDocument:      true,
	CategoryModelArtifact: true,
}

// DefaultMaxSize applies when a store is built with a zero limit.
const DefaultMaxSize = 10 << 20

type BlobMetadata struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	PatientID   string    `json:"patient_id,omitempty"`
	Category    string    `json:"category"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

type SearchParams struct {
	PatientID    string
	Category     string
	ContentType  string
	FileName     string // case-insensitive substring
	CreatedAfter *time.Time
	Limit        int
	Offset       int
}

type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, id string) error
	GetMetadata(ctx context.Context, id string) (*BlobMetadata, error)
	ListByPatient(ctx context.Context, patientID, category string, limit, offset int) ([]*BlobMetadata, int, error)
	Search(ctx context.Context, params SearchParams) ([]*BlobMetadata, int, error)
	// URL returns a link clients can fetch the blob from.
	URL(ctx context.Context, id string) (string, error)
}

func validate(meta BlobMetadata) error {
	if strings.TrimSpace(meta.FileName) == "" {
		return ErrMissingFileName
	}
	if !allowedCategories[meta.Category] {
		return fmt.Errorf("%w: %q", ErrBadCategory, meta.Category)
	}
	return nil
}

// readLimited reads content fully, failing once more than max bytes arrive.
func readLimited(content io.Reader, max int64) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, max+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > max {
		return nil, "", ErrFileTooLarge
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

func matches(m *BlobMetadata, p SearchParams) bool {
	if p.PatientID != "" && m.PatientID != p.PatientID {
		return false
	}
	if p.Category != "" && m.Category != p.Category {
		return false
	}
	if p.ContentType != "" && m.ContentType != p.ContentType {
		return false
	}
	if p.CreatedAfter != nil && m.CreatedAt.Before(*p.CreatedAfter) {
		return false
	}
	if p.FileName != "" && !strings.Contains(strings.ToLower(m.FileName), strings.ToLower(p.FileName)) {
		return false
	}
	return true
}

// page sorts newest first and slices out one page.
func page(items []*BlobMetadata, limit, offset int) ([]*BlobMetadata, int) {
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := len(items)
	if limit <= 0 {
		limit = 20
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total
}
