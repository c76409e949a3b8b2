package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"SE3Price/internal/domain/models"
	domrepo "SE3Price/internal/domain/repository"
)

// FileModelRegistry keeps the latest payload of each model at <dir>/<name>.json.
// Only the newest version survives; the ClickHouse registry keeps history.
type FileModelRegistry struct {
	dir string
}

func NewFileModelRegistry(dir string) *FileModelRegistry {
	return &FileModelRegistry{dir: dir}
}

func (r *FileModelRegistry) path(name string) string {
	return filepath.Join(r.dir, name+".json")
}

func (r *FileModelRegistry) SaveModel(ctx context.Context, rec *models.ModelRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("model dir: %w", err)
	}
	if err := writeAtomic(r.path(rec.Name), rec.Payload); err != nil {
		return fmt.Errorf("write model %s: %w", rec.Name, err)
	}
	return nil
}

// LatestModel returns the stored payload. Version and metrics live inside the
// payload; TrainedAt is the file modification time.
func (r *FileModelRegistry) LatestModel(ctx context.Context, name string) (*models.ModelRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := os.Stat(r.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("model file %s: %w", r.path(name), domrepo.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat model: %w", err)
	}
	data, err := os.ReadFile(r.path(name))
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return &models.ModelRecord{Name: name, TrainedAt: st.ModTime().UTC(), Payload: data}, nil
}
