package ports

import (
	"context"
	"io"

	"didlab/domain/panel"
)

// TableReader turns tabular input into a typed frame
type TableReader interface {
	// Load reads a file; the format follows the extension
	Load(ctx context.Context, path string) (*panel.Frame, error)

	// Decode reads an in-memory upload in the named format ("csv", "xlsx", "json")
	Decode(ctx context.Context, src io.Reader, format string) (*panel.Frame, error)
}
