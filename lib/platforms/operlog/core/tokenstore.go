package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenStore persists the single bearer token of a session. It does not know
// whether the token is still valid.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
}

// FileTokenStore keeps the raw token as the only contents of a file. Surrounding
// whitespace is dropped on load, a hand edited file often ends with a newline.
type FileTokenStore struct {
	Path string
}

func NewFileTokenStore(path string) FileTokenStore {
	return FileTokenStore{Path: path}
}

func (s FileTokenStore) Load() (string, error) {
	contents, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(contents))
	if token == "" {
		return "", ErrTokenNotFound
	}
	return token, nil
}

// Save replaces the token file through a rename so a concurrent Load sees
// either the old or the new token, never a truncated one.
func (s FileTokenStore) Save(token string) error {
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+"-*")
	if err != nil {
		return fmt.Errorf("create temporary token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	_, err = tmp.WriteString(token)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	err = tmp.Chmod(0600)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("chmod token file: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close token file: %w", err)
	}

	err = os.Rename(tmpName, s.Path)
	if err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
