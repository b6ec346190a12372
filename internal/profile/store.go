// Package profile manages named browser profiles: the persistent
// user-data directories that carry login state, plus tar.gz
// export/import so a logged-in profile can move between machines.
package profile

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentify/agentifyd/pkg/models"
)

// Info describes one profile on disk.
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store keeps profiles under <stateDir>/profiles and archives under
// <stateDir>/profile-archives.
type Store struct {
	profilesDir string
	archivesDir string
	mu          sync.Mutex
}

func NewStore(stateDir string) (*Store, error) {
	s := &Store{
		profilesDir: filepath.Join(stateDir, "profiles"),
		archivesDir: filepath.Join(stateDir, "profile-archives"),
	}
	for _, dir := range []string{s.profilesDir, s.archivesDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("profile store: %w", err)
		}
	}
	return s, nil
}

func validName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Dir returns (creating if needed) the user-data dir for a profile.
func (s *Store) Dir(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("invalid profile name %q", name)
	}
	dir := filepath.Join(s.profilesDir, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// List returns known profiles sorted by name.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.profilesDir)
	if err != nil {
		return nil, err
	}
	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info := Info{Name: entry.Name(), Path: filepath.Join(s.profilesDir, entry.Name())}
		if fi, err := entry.Info(); err == nil {
			info.UpdatedAt = fi.ModTime()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Delete removes a profile directory and its archive.
func (s *Store) Delete(name string) error {
	if !validName(name) {
		return models.ErrProfileNotFound
	}
	dir := filepath.Join(s.profilesDir, name)
	if _, err := os.Stat(dir); err != nil {
		return models.ErrProfileNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	os.Remove(s.archivePath(name))
	return nil
}

func (s *Store) archivePath(name string) string {
	return filepath.Join(s.archivesDir, name+".tar.gz")
}

// Export archives a profile directory and returns the archive path.
func (s *Store) Export(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validName(name) {
		return "", models.ErrProfileNotFound
	}
	dir := filepath.Join(s.profilesDir, name)
	if _, err := os.Stat(dir); err != nil {
		return "", models.ErrProfileNotFound
	}
	target := s.archivePath(name)
	if err := compressDir(dir, target); err != nil {
		return "", fmt.Errorf("export profile %s: %w", name, err)
	}
	return target, nil
}

// Import replaces a profile's contents from a tar.gz stream.
func (s *Store) Import(name string, archive io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.Dir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := extractTo(archive, dir); err != nil {
		return fmt.Errorf("import profile %s: %w", name, err)
	}
	return nil
}

func compressDir(source, target string) error {
	file, err := os.Create(target)
	if err != nil {
		return err
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	defer gzWriter.Close()
	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	return filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// Chromium keeps live sockets and locks in the profile; they
		// don't archive and don't need to.
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		header, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tarWriter, f)
		return err
	})
}

func extractTo(archive io.Reader, target string) error {
	gzReader, err := gzip.NewReader(archive)
	if err != nil {
		return err
	}
	defer gzReader.Close()
	tarReader := tar.NewReader(gzReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		cleaned := filepath.Clean(header.Name)
		if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
			return fmt.Errorf("archive entry escapes target: %s", header.Name)
		}
		targetPath := filepath.Join(target, cleaned)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o700); err != nil {
				return err
			}
			outFile, err := os.Create(targetPath)
			if err != nil {
				return err
			}
			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return err
			}
			outFile.Close()
		}
	}
	return nil
}
