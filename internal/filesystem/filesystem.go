package filesystem

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"segtransfer/internal/config"
	"segtransfer/internal/errors"
)

// FileInfo describes one servable file in the storage directory.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// ValidateFilename checks that a requested name is a bare filename and
// cannot escape the storage directory.
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.ErrEmptyFilename
	}

	if strings.Contains(name, "..") {
		return errors.NewValidationError("filename", name, "name contains directory traversal")
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return errors.NewValidationError("filename", name, "name must not contain path separators")
	}

	return nil
}

// ListFiles returns the servable files in dir, skipping subdirectories.
func ListFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewFileSystemError("list", dir, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	return files, nil
}

// ReadServedFile validates name, enforces the minimum servable size,
// and returns the file's contents. Files below minSize are refused so
// every transfer spans multiple segments.
func ReadServedFile(dir, name string, minSize int64) ([]byte, error) {
	if err := ValidateFilename(name); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, name)
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileSystemError("read", path, errors.ErrFileNotFound)
		}
		return nil, errors.NewFileSystemError("stat", path, err)
	}
	if stat.IsDir() {
		return nil, errors.NewFileSystemError("read", path, errors.ErrFileNotFound)
	}
	if stat.Size() < minSize {
		return nil, errors.NewValidationError("file_size", stat.Size(),
			"file is below the minimum servable size")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFileSystemError("read", path, err)
	}
	return data, nil
}

// SaveDownload writes data into dir under name, creating dir if
// needed. The write goes through a temporary file and a rename so a
// crash never leaves a half-written download behind. Returns the final
// path.
func SaveDownload(dir, name string, data []byte) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	if err := EnsureDirectoryExists(dir); err != nil {
		return "", err
	}

	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, name+".part*")
	if err != nil {
		return "", errors.NewFileSystemError("create_temp", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", errors.NewFileSystemError("write", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", errors.NewFileSystemError("close", tmpName, err)
	}
	if err := os.Chmod(tmpName, config.FilePerms); err != nil {
		os.Remove(tmpName)
		return "", errors.NewFileSystemError("chmod", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", errors.NewFileSystemError("rename", path, err)
	}

	return path, nil
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dir string) error {
	if err := os.MkdirAll(dir, config.LogDirPerms); err != nil {
		return errors.NewFileSystemError("mkdir", dir, err)
	}
	return nil
}
