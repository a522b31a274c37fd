// Package intake implements the file intake collaborator: upload validation
// and word counting. The lifecycle machine owns the format whitelist and size
// ceiling; intake re-checks both so the wizard can show preflight results
// before a record exists.
package intake

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"inkstudio/pkg/lifecycle"
)

// ErrUnreadable indicates no text could be extracted from the upload.
var ErrUnreadable = errors.New("manuscript content unreadable")

// Preflight holds the three upload checks surfaced by the wizard.
type Preflight struct {
	Format      bool `json:"format"`
	Size        bool `json:"size"`
	Readability bool `json:"readability"`
}

// ParseResult is the outcome of validating and parsing one upload.
type ParseResult struct {
	WordCount int       `json:"wordCount"`
	Format    string    `json:"format"`
	SizeBytes int64     `json:"sizeBytes"`
	Preflight Preflight `json:"preflight"`
}

// Service validates uploads and extracts word counts.
type Service interface {
	ValidateAndParse(ctx context.Context, filename string, data []byte) (ParseResult, error)
}

// Parser is the default Service backed by per-format extractors.
type Parser struct{}

// NewParser constructs the default intake service.
func NewParser() *Parser {
	return &Parser{}
}

// ValidateAndParse enforces the format whitelist and size ceiling, then
// counts words with the extractor for the file's format.
func (p *Parser) ValidateAndParse(ctx context.Context, filename string, data []byte) (ParseResult, error) {
	res := ParseResult{
		Format:    strings.ToLower(filepath.Ext(filename)),
		SizeBytes: int64(len(data)),
	}
	res.Preflight.Format = lifecycle.FormatAllowed(filename)
	res.Preflight.Size = res.SizeBytes <= lifecycle.MaxFileBytes
	if !res.Preflight.Format {
		return res, fmt.Errorf("%w: %s", lifecycle.ErrInvalidFile, res.Format)
	}
	if !res.Preflight.Size {
		return res, fmt.Errorf("%w: %d bytes", lifecycle.ErrFileTooLarge, res.SizeBytes)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	count, err := countWords(res.Format, data)
	if err != nil {
		return res, err
	}
	res.WordCount = count
	res.Preflight.Readability = count > 0
	return res, nil
}
