package dataset

import "context"

// Source supplies the full record set for one replay session. Load is
// called once per session and must return a fresh slice the caller may
// reorder.
type Source interface {
	Load(ctx context.Context) ([]Record, error)
	// Name describes the source in logs and error messages.
	Name() string
}

// FileSource loads records from a dataset file on every call.
type FileSource struct {
	Path string
}

// NewFileSource creates a file-backed source.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(s.Path)
}

func (s *FileSource) Name() string {
	return s.Path
}
