package deadletter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// File writes each dead letter to {Dir}/{eventId}.json as the serialized
// event. Writes are atomic: readers never see a partial file.
type File struct {
	Dir   string
	Codec Codec

	// NoOverwrite makes DeadLetter fail with ErrExists when a record for
	// the same event id is already present. By default it is replaced.
	NoOverwrite bool
}

// NewFile creates the directory if needed and returns a File strategy.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("deadletter: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("deadletter: create directory: %w", err)
	}
	return &File{Dir: dir, Codec: JSON}, nil
}

// Path returns the file used for an event id.
func (f *File) Path(eventID string) string {
	return filepath.Join(f.Dir, eventID+".json")
}

// DeadLetter implements Strategy.
func (f *File) DeadLetter(_ context.Context, letter Letter) error {
	if err := checkID(letter.EventID); err != nil {
		return err
	}

	data, err := f.codec().Marshal(letter.Event)
	if err != nil {
		return fmt.Errorf("deadletter: encode %s: %w", letter.EventID, err)
	}

	tmp, err := os.CreateTemp(f.Dir, "."+letter.EventID+".*.tmp")
	if err != nil {
		return fmt.Errorf("deadletter: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed or linked away

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("deadletter: write %s: %w", letter.EventID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("deadletter: sync %s: %w", letter.EventID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("deadletter: close %s: %w", letter.EventID, err)
	}

	final := f.Path(letter.EventID)
	if f.NoOverwrite {
		// Link fails if final exists, unlike Rename.
		if err := os.Link(tmpName, final); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%w: %s", ErrExists, letter.EventID)
			}
			return fmt.Errorf("deadletter: link %s: %w", letter.EventID, err)
		}
		return nil
	}

	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("deadletter: rename %s: %w", letter.EventID, err)
	}
	return nil
}

func (f *File) codec() Codec {
	if f.Codec == nil {
		return JSON
	}
	return f.Codec
}

// ReadFile decodes the dead letter for eventID from dir into an E.
// A nil codec uses JSON.
func ReadFile[E any](dir, eventID string, codec Codec) (E, error) {
	var evt E
	if err := checkID(eventID); err != nil {
		return evt, err
	}
	if codec == nil {
		codec = JSON
	}

	data, err := os.ReadFile(filepath.Join(dir, eventID+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return evt, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	if err != nil {
		return evt, fmt.Errorf("deadletter: read %s: %w", eventID, err)
	}
	if err := codec.Unmarshal(data, &evt); err != nil {
		return evt, fmt.Errorf("deadletter: decode %s: %w", eventID, err)
	}
	return evt, nil
}

// checkID rejects ids that would escape the directory or name a hidden file.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
