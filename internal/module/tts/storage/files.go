package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore manages per-task files on the local filesystem.
//
// Each task owns one directory, so cleanup is a single RemoveAll:
//
//	<root>/tasks/<task_id>/<task_id>.txt
//	<root>/tasks/<task_id>/<task_id>.wav
//	<root>/tasks/<task_id>/<task_id>.srt
type FileStore struct {
	root string
}

// NewFileStore creates a file store rooted at the given directory.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "tasks"), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the store's root directory.
func (s *FileStore) Root() string {
	return s.root
}

// TaskDir returns the directory holding a task's files.
func (s *FileStore) TaskDir(taskID string) string {
	return filepath.Join(s.root, "tasks", taskID)
}

// TextRef returns the store-relative path of a task's source text.
func (s *FileStore) TextRef(taskID string) string {
	return filepath.Join("tasks", taskID, taskID+".txt")
}

// AudioRef returns the store-relative path of a task's audio.
func (s *FileStore) AudioRef(taskID string) string {
	return filepath.Join("tasks", taskID, taskID+".wav")
}

// SubtitleRef returns the store-relative path of a task's subtitles.
func (s *FileStore) SubtitleRef(taskID string) string {
	return filepath.Join("tasks", taskID, taskID+".srt")
}

// Path resolves a store-relative ref to an absolute path.
func (s *FileStore) Path(ref string) string {
	return filepath.Join(s.root, ref)
}

// SaveText writes a task's source text and returns its ref.
func (s *FileStore) SaveText(taskID, text string) (string, error) {
	ref := s.TextRef(taskID)
	if err := s.write(ref, []byte(text)); err != nil {
		return "", fmt.Errorf("save text: %w", err)
	}
	return ref, nil
}

// ReadText reads back a task's source text.
func (s *FileStore) ReadText(taskID string) (string, error) {
	data, err := os.ReadFile(s.Path(s.TextRef(taskID)))
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return string(data), nil
}

// SaveAudio writes a task's audio and returns its ref and size.
func (s *FileStore) SaveAudio(taskID string, data []byte) (string, int64, error) {
	ref := s.AudioRef(taskID)
	if err := s.write(ref, data); err != nil {
		return "", 0, fmt.Errorf("save audio: %w", err)
	}
	return ref, int64(len(data)), nil
}

// SaveSubtitle writes a task's subtitle file and returns its ref.
func (s *FileStore) SaveSubtitle(taskID, srt string) (string, error) {
	ref := s.SubtitleRef(taskID)
	if err := s.write(ref, []byte(srt)); err != nil {
		return "", fmt.Errorf("save subtitle: %w", err)
	}
	return ref, nil
}

// ReadFile reads the file at the given ref.
func (s *FileStore) ReadFile(ref string) ([]byte, error) {
	return os.ReadFile(s.Path(ref))
}

// RemoveTask deletes a task's directory and everything in it.
// Removing a task that has no files is not an error.
func (s *FileStore) RemoveTask(taskID string) error {
	if err := os.RemoveAll(s.TaskDir(taskID)); err != nil {
		return fmt.Errorf("remove task files: %w", err)
	}
	return nil
}

func (s *FileStore) write(ref string, data []byte) error {
	path := s.Path(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
