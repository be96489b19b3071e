package client

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Bookmark represents a saved server connection.
type Bookmark struct {
	Name     string `yaml:"name"`
	Addr     string `yaml:"addr"` // host:port, or a ws:// URL for the gateway
	Username string `yaml:"username"`
	LastUsed int64  `yaml:"last_used,omitempty"`
}

// BookmarkStore manages server bookmarks in a YAML file.
type BookmarkStore struct {
	path      string
	Bookmarks []Bookmark `yaml:"bookmarks"`
}

// NewBookmarkStore creates a bookmark store at path. An empty path uses
// servers.yaml next to the executable.
func NewBookmarkStore(path string) *BookmarkStore {
	if path == "" {
		exePath, err := os.Executable()
		if err != nil {
			exePath = "."
		}
		path = filepath.Join(filepath.Dir(exePath), "servers.yaml")
	}
	return &BookmarkStore{path: path}
}

// Load reads bookmarks from disk. Returns empty list if file doesn't exist.
func (bs *BookmarkStore) Load() error {
	data, err := os.ReadFile(bs.path)
	if err != nil {
		if os.IsNotExist(err) {
			bs.Bookmarks = nil
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, bs)
}

// Save writes bookmarks to disk.
func (bs *BookmarkStore) Save() error {
	data, err := yaml.Marshal(bs)
	if err != nil {
		return err
	}
	return os.WriteFile(bs.path, data, 0600)
}

// Add adds or updates a bookmark. Returns true if it was a new entry.
func (bs *BookmarkStore) Add(b Bookmark) bool {
	for i, existing := range bs.Bookmarks {
		if existing.Addr == b.Addr && existing.Username == b.Username {
			bs.Bookmarks[i] = b
			return false
		}
	}
	bs.Bookmarks = append(bs.Bookmarks, b)
	return true
}

// Find returns the bookmark with the given name or address, or nil.
func (bs *BookmarkStore) Find(nameOrAddr string) *Bookmark {
	for i := range bs.Bookmarks {
		if bs.Bookmarks[i].Name == nameOrAddr || bs.Bookmarks[i].Addr == nameOrAddr {
			return &bs.Bookmarks[i]
		}
	}
	return nil
}

// Latest returns the most recently used bookmark, or nil.
func (bs *BookmarkStore) Latest() *Bookmark {
	var latest *Bookmark
	for i := range bs.Bookmarks {
		if latest == nil || bs.Bookmarks[i].LastUsed > latest.LastUsed {
			latest = &bs.Bookmarks[i]
		}
	}
	return latest
}
