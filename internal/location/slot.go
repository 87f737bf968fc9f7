package location

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

// FileSlot keeps the location in a JSON file so it survives a restart.
type FileSlot struct {
	path string
}

// NewFileSlot returns a slot backed by path. The file is created on first Save.
func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

// Load reads the stored location. A missing file is not an error.
func (f *FileSlot) Load() (models.Location, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.Location{}, false, nil
	}
	if err != nil {
		return models.Location{}, false, fmt.Errorf("read location slot: %w", err)
	}
	var loc models.Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return models.Location{}, false, fmt.Errorf("decode location slot: %w", err)
	}
	return loc, true, nil
}

// Save writes the location through a temp file and rename.
func (f *FileSlot) Save(loc models.Location) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create location dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write location slot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace location slot: %w", err)
	}
	return nil
}
