package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"SE3Price/internal/domain/models"
	domrepo "SE3Price/internal/domain/repository"
	applogger "SE3Price/pkg/logger"
)

const archiveLayout = "20060102_150405"

// PredictionFile is the JSON artifact the dashboard reads. Writes go through a
// temp file and rename so readers never see a partial file.
type PredictionFile struct {
	dir     string
	name    string
	archive bool
	loc     *time.Location
	l       *applogger.Logger
}

func NewPredictionFile(dir, name string, archive bool, loc *time.Location, l *applogger.Logger) *PredictionFile {
	if l == nil {
		l = applogger.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PredictionFile{dir: dir, name: name, archive: archive, loc: loc, l: l}
}

func (p *PredictionFile) Path() string { return filepath.Join(p.dir, p.name) }

// Write replaces the artifact with res.Records, timestamps rendered in the
// region zone. The archive copy is written first; a failure anywhere leaves
// the previous artifact in place.
func (p *PredictionFile) Write(ctx context.Context, res *models.InferenceResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := make([]models.PredictionRecord, len(res.Records))
	for i, r := range res.Records {
		r.Timestamp = r.Timestamp.In(p.loc)
		out[i] = r
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode predictions: %w", err)
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("prediction dir: %w", err)
	}

	if p.archive {
		adir := filepath.Join(p.dir, "archive")
		if err := os.MkdirAll(adir, 0o755); err != nil {
			return fmt.Errorf("archive dir: %w", err)
		}
		stamp := res.GeneratedAt
		if stamp.IsZero() {
			stamp = time.Now()
		}
		apath := filepath.Join(adir, "predictions_"+stamp.In(p.loc).Format(archiveLayout)+".json")
		if err := writeAtomic(apath, data); err != nil {
			return fmt.Errorf("archive predictions: %w", err)
		}
	}
	if err := writeAtomic(p.Path(), data); err != nil {
		return fmt.Errorf("write predictions: %w", err)
	}
	p.l.Info("prediction artifact written",
		applogger.String("path", p.Path()),
		applogger.Int("records", len(out)),
		applogger.String("model_version", res.ModelVersion),
	)
	return nil
}

// Latest reads the current artifact and its modification time.
func (p *PredictionFile) Latest(ctx context.Context) ([]models.PredictionRecord, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}
	st, err := os.Stat(p.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, fmt.Errorf("prediction artifact %s: %w", p.Path(), domrepo.ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat predictions: %w", err)
	}
	data, err := os.ReadFile(p.Path())
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read predictions: %w", err)
	}
	var records []models.PredictionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode predictions: %w", err)
	}
	return records, st.ModTime(), nil
}

func writeAtomic(path string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
