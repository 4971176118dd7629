package ollama

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultHost      = "registry.ollama.ai"
	DefaultNamespace = "library"
	DefaultTag       = "latest"
	MediaTypeModel   = "application/vnd.ollama.image.model"
)

var ErrNotFound = errors.New("ollama: model not found")

type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Layers        []Layer `json:"layers"`
}

type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// Reference names a model in the local store, e.g. "llama3",
// "llama3:8b", "me/tiny:q4" or "example.com/me/tiny:q4".
type Reference struct {
	Host      string
	Namespace string
	Name      string
	Tag       string
}

func (r Reference) String() string {
	return fmt.Sprintf("%s/%s/%s:%s", r.Host, r.Namespace, r.Name, r.Tag)
}

// ParseReference fills missing parts with the registry defaults.
func ParseReference(s string) (Reference, error) {
	ref := Reference{Host: DefaultHost, Namespace: DefaultNamespace, Tag: DefaultTag}
	s = strings.TrimSpace(s)
	if s == "" {
		return ref, errors.New("ollama: empty model name")
	}

	path := s
	if i := strings.LastIndex(s, ":"); i > strings.LastIndex(s, "/") {
		path, ref.Tag = s[:i], s[i+1:]
		if ref.Tag == "" {
			return ref, fmt.Errorf("ollama: empty tag in %q", s)
		}
	}

	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return ref, fmt.Errorf("ollama: invalid model name %q", s)
		}
	}
	switch len(parts) {
	case 1:
		ref.Name = parts[0]
	case 2:
		ref.Namespace, ref.Name = parts[0], parts[1]
	case 3:
		ref.Host, ref.Namespace, ref.Name = parts[0], parts[1], parts[2]
	default:
		return ref, fmt.Errorf("ollama: invalid model name %q", s)
	}
	return ref, nil
}

// Dir returns the model store: $OLLAMA_MODELS, or ~/.ollama/models.
func Dir() (string, error) {
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ollama", "models"), nil
}

// Resolver maps model names to GGUF blobs under a store directory.
type Resolver struct {
	Dir string
}

func NewResolver() (*Resolver, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return &Resolver{Dir: dir}, nil
}

func (r *Resolver) manifestPath(ref Reference) string {
	return filepath.Join(r.Dir, "manifests", ref.Host, ref.Namespace, ref.Name, ref.Tag)
}

// Manifest reads the manifest for ref.
func (r *Resolver) Manifest(ref Reference) (*Manifest, error) {
	data, err := os.ReadFile(r.manifestPath(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no manifest for %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ollama: manifest %s: %w", ref, err)
	}
	return &m, nil
}

// Resolve returns the path of the model layer blob for name.
func (r *Resolver) Resolve(name string) (string, error) {
	ref, err := ParseReference(name)
	if err != nil {
		return "", err
	}
	m, err := r.Manifest(ref)
	if err != nil {
		return "", err
	}

	var layer *Layer
	for i := range m.Layers {
		if m.Layers[i].MediaType == MediaTypeModel {
			layer = &m.Layers[i]
			break
		}
	}
	if layer == nil {
		return "", fmt.Errorf("ollama: manifest %s has no model layer", ref)
	}
	algo, hash, ok := strings.Cut(layer.Digest, ":")
	if !ok || algo == "" || hash == "" || strings.ContainsAny(hash, `/\`) {
		return "", fmt.Errorf("ollama: malformed digest %q", layer.Digest)
	}

	blob := filepath.Join(r.Dir, "blobs", algo+"-"+hash)
	info, err := os.Stat(blob)
	if err != nil {
		return "", fmt.Errorf("%w: blob %s for %s", ErrNotFound, filepath.Base(blob), ref)
	}
	if layer.Size > 0 && info.Size() != layer.Size {
		return "", fmt.Errorf("ollama: blob %s is %d bytes, manifest says %d", filepath.Base(blob), info.Size(), layer.Size)
	}
	return blob, nil
}

// ResolvePath returns arg itself when it names an existing file and
// otherwise resolves it as a model name.
func (r *Resolver) ResolvePath(arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return arg, nil
	}
	return r.Resolve(arg)
}
