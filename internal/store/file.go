package store

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type snapshotFile struct {
	Version int               `yaml:"version"`
	BPM     float64           `yaml:"bpm,omitempty"`
	Tracks  map[string]Record `yaml:"tracks"`
}

const snapshotVersion = 1

// File is a Memory store that can be flushed to and reloaded from a YAML
// snapshot. Save and Load never touch the disk; call Flush to persist.
type File struct {
	*Memory
	path string
	bpm  float64
}

// OpenFile reads path if it exists. A missing file yields an empty store.
func OpenFile(path string) (*File, error) {
	f := &File{Memory: NewMemory(), path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %s", path)
	}
	var snap snapshotFile
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return nil, errors.Wrapf(err, "decode snapshot %s", path)
	}
	if snap.Version > snapshotVersion {
		return nil, errors.Errorf("snapshot %s has version %d, newest supported is %d", path, snap.Version, snapshotVersion)
	}
	f.bpm = snap.BPM
	f.replace(snap.Tracks)
	return f, nil
}

func (f *File) Path() string { return f.path }

// BPM returns the tempo recorded with the snapshot, or 0 if none was stored.
func (f *File) BPM() float64 { return f.bpm }

func (f *File) SetBPM(bpm float64) { f.bpm = bpm }

// Flush writes every record to the snapshot path atomically.
func (f *File) Flush() error {
	snap := snapshotFile{Version: snapshotVersion, BPM: f.bpm, Tracks: f.snapshot()}
	raw, err := yaml.Marshal(&snap)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".looprec-*.yaml")
	if err != nil {
		return errors.Wrap(err, "create temp snapshot")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write temp snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close temp snapshot")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "replace %s", f.path)
	}
	return nil
}
