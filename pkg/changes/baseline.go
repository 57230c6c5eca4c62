package changes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/stine-notifier/stine/pkg/entity"
)

// BaselineFormatVersion is written into every baseline file.
const BaselineFormatVersion = 1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrBaselineCorrupt is returned for baseline files that cannot be used.
var ErrBaselineCorrupt = errors.New("baseline corrupt")

// Baseline is the collection of one kind as it was last observed.
type Baseline struct {
	FormatVersion int             `json:"format_version"`
	Kind          entity.Kind     `json:"kind"`
	Language      entity.Language `json:"language"`
	RunID         string          `json:"run_id"`
	TakenAt       time.Time       `json:"taken_at"`
	Entities      []entity.Value  `json:"entities"`
}

// BaselineStore persists one baseline per kind.
type BaselineStore interface {
	// Load returns nil, nil when no baseline exists yet.
	Load(kind entity.Kind) (*Baseline, error)
	Save(b Baseline) error
	Delete(kind entity.Kind) error
}

// FileBaselineStore keeps baselines as JSON files named after their kind.
type FileBaselineStore struct {
	dir string
}

func NewFileBaselineStore(dir string) *FileBaselineStore {
	return &FileBaselineStore{dir: dir}
}

func (s *FileBaselineStore) path(kind entity.Kind) string {
	return filepath.Join(s.dir, string(kind)+".json")
}

func (s *FileBaselineStore) Load(kind entity.Kind) (*Baseline, error) {
	f, err := os.Open(s.path(kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var b Baseline
	if err := json.NewDecoder(f).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBaselineCorrupt, s.path(kind), err)
	}
	if b.FormatVersion != BaselineFormatVersion {
		return nil, fmt.Errorf("%w: %s: format version %d, want %d", ErrBaselineCorrupt, s.path(kind), b.FormatVersion, BaselineFormatVersion)
	}
	if b.Kind != kind {
		return nil, fmt.Errorf("%w: %s holds kind %q", ErrBaselineCorrupt, s.path(kind), b.Kind)
	}
	return &b, nil
}

// Save writes the baseline to a temporary file in the same directory, syncs
// it and renames it over the previous one.
func (s *FileBaselineStore) Save(b Baseline) (err error) {
	b.FormatVersion = BaselineFormatVersion
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	target := s.path(b.Kind)
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+filepath.Base(target)+"-")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err = enc.Encode(b); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (s *FileBaselineStore) Delete(kind entity.Kind) error {
	if err := os.Remove(s.path(kind)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
