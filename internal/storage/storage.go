// Package storage resolves record-set locations to blob backends. A location
// is a URI: bare paths and file:// address the local filesystem, gs:// a
// Google Cloud Storage bucket, and memory:// an in-process store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	gcstorage "cloud.google.com/go/storage"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/gcs"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/local"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/memory"
)

// Supported location schemes.
const (
	SchemeFile   = "file"
	SchemeGCS    = "gs"
	SchemeMemory = "memory"
)

// BlobStore reads and writes whole objects.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Location is a parsed record-set URI.
type Location struct {
	Scheme string
	// Bucket is the GCS bucket for gs:// locations.
	Bucket string
	// Path is the filesystem path, object name, or memory key.
	Path string
}

// String renders the location back to URI form.
func (l Location) String() string {
	switch l.Scheme {
	case SchemeGCS:
		return fmt.Sprintf("gs://%s/%s", l.Bucket, l.Path)
	case SchemeMemory:
		return "memory://" + l.Path
	default:
		return l.Path
	}
}

// ParseLocation parses raw into a Location.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, errors.New("location is required")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: SchemeFile, Path: filepath.Clean(raw)}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse location %q: %w", raw, err)
	}
	switch u.Scheme {
	case SchemeFile:
		p := u.Path
		if u.Host != "" {
			p = filepath.Join(u.Host, u.Path)
		}
		if p == "" {
			return Location{}, fmt.Errorf("location %q has no path", raw)
		}
		return Location{Scheme: SchemeFile, Path: filepath.Clean(p)}, nil
	case SchemeGCS:
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return Location{}, fmt.Errorf("location %q needs a bucket and object", raw)
		}
		return Location{Scheme: SchemeGCS, Bucket: u.Host, Path: object}, nil
	case SchemeMemory:
		key := strings.TrimPrefix(raw, "memory://")
		if key == "" {
			return Location{}, fmt.Errorf("location %q has no key", raw)
		}
		return Location{Scheme: SchemeMemory, Path: key}, nil
	default:
		return Location{}, fmt.Errorf("unsupported location scheme %q", u.Scheme)
	}
}

// GCSClientFunc lazily creates a GCS client.
type GCSClientFunc func(ctx context.Context) (*gcstorage.Client, error)

// Resolver maps locations to blob stores. The GCS client is created on first
// use and shared afterwards.
type Resolver struct {
	memory    *memory.BlobStore
	newClient GCSClientFunc

	mu     sync.Mutex
	client *gcstorage.Client
}

// NewResolver builds a Resolver. mem backs memory:// locations and may be nil
// to get a private store; newClient may be nil to use default credentials.
func NewResolver(mem *memory.BlobStore, newClient GCSClientFunc) *Resolver {
	if mem == nil {
		mem = memory.NewBlobStore()
	}
	if newClient == nil {
		newClient = func(ctx context.Context) (*gcstorage.Client, error) {
			return gcstorage.NewClient(ctx)
		}
	}
	return &Resolver{memory: mem, newClient: newClient}
}

// Resolve returns the store for loc and the object path within it.
func (r *Resolver) Resolve(ctx context.Context, loc Location) (BlobStore, string, error) {
	switch loc.Scheme {
	case SchemeFile:
		store, err := local.New(local.Config{BaseDir: filepath.Dir(loc.Path)})
		if err != nil {
			return nil, "", fmt.Errorf("open local store: %w", err)
		}
		return store, filepath.Base(loc.Path), nil
	case SchemeMemory:
		return r.memory, loc.Path, nil
	case SchemeGCS:
		client, err := r.gcsClient(ctx)
		if err != nil {
			return nil, "", err
		}
		store, err := gcs.New(client, gcs.Config{Bucket: loc.Bucket})
		if err != nil {
			return nil, "", fmt.Errorf("open gcs store: %w", err)
		}
		return store, loc.Path, nil
	default:
		return nil, "", fmt.Errorf("unsupported location scheme %q", loc.Scheme)
	}
}

func (r *Resolver) gcsClient(ctx context.Context) (*gcstorage.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	client, err := r.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	r.client = client
	return client, nil
}

// Close releases the GCS client if one was created.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

// Open parses raw and opens the object it names.
func (r *Resolver) Open(ctx context.Context, raw string) (io.ReadCloser, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, err
	}
	store, path, err := r.Resolve(ctx, loc)
	if err != nil {
		return nil, err
	}
	return store.GetObject(ctx, path)
}

// Put parses raw and writes data to it, returning the stored URI.
func (r *Resolver) Put(ctx context.Context, raw, contentType string, data io.Reader) (string, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return "", err
	}
	store, path, err := r.Resolve(ctx, loc)
	if err != nil {
		return "", err
	}
	uri, err := store.PutObject(ctx, path, contentType, data)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", loc, err)
	}
	return uri, nil
}
