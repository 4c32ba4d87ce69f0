// Package catalog resolves a dataset manifest (dataset.yaml) and a
// (dataset, profile, view) triple into the (remote_url, local_cache_path,
// merkle_ref_path) triple the core's mafile.Open accepts. It is the sole
// producer of that triple; nothing downstream of it touches chunk-level
// logic, and the core package never parses YAML itself.
package catalog

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nosqlbench/vdatasets/pkg/vectorcodec"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

// View names the four dataset components a catalog profile advertises.
type View string

const (
	BaseVectors        View = "base_vectors"
	QueryVectors       View = "query_vectors"
	NeighborsIndices   View = "neighbors_indices"
	NeighborsDistances View = "neighbors_distances"
)

// ViewManifest is a single view's remote locations, as authored in
// dataset.yaml layout v1. Unrecognized keys (e.g. a future layout v2
// field) are silently ignored by yaml.v3's default unmarshal behavior,
// giving this parser the same tolerant, read-compatible stance the spec
// calls for.
type ViewManifest struct {
	RemoteURL string `yaml:"remote_url"`
	MerkleRef string `yaml:"merkle_ref"`
	// VectorType and Dim describe the fixed-record layout for views
	// that carry vector data (base_vectors, query_vectors); they are
	// meaningless for neighbors_indices/neighbors_distances and left
	// zero there. Both are optional: a manifest that omits them
	// declares no opinion on how to decode the view as vectors, and
	// Resolve leaves Resolved.VectorType at its zero value (F32) with
	// Dim 0, which vectorcodec.Open rejects rather than guessing.
	VectorType string `yaml:"vector_type"`
	Dim        int    `yaml:"dim"`
}

// Profile is a named bundle of views within a dataset manifest (e.g.
// "default", "subset-10k").
type Profile struct {
	BaseVectors        ViewManifest `yaml:"base_vectors"`
	QueryVectors       ViewManifest `yaml:"query_vectors"`
	NeighborsIndices   ViewManifest `yaml:"neighbors_indices"`
	NeighborsDistances ViewManifest `yaml:"neighbors_distances"`
}

// Manifest is the parsed form of a dataset.yaml file.
type Manifest struct {
	Name     string             `yaml:"name"`
	Version  int                `yaml:"version"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// ParseManifest parses raw dataset.yaml bytes.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, status.Errorf(codes.InvalidArgument, "Failed to parse dataset manifest: %s", err)
	}
	if m.Name == "" {
		return Manifest{}, status.Error(codes.InvalidArgument, "Dataset manifest is missing a name")
	}
	if len(m.Profiles) == 0 {
		return Manifest{}, status.Error(codes.InvalidArgument, "Dataset manifest declares no profiles")
	}
	return m, nil
}

// LoadManifestFile reads and parses a dataset.yaml file from a local
// path.
func LoadManifestFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, status.Errorf(codes.InvalidArgument, "Failed to read dataset manifest %#v: %s", path, err)
	}
	return ParseManifest(data)
}

// FetchManifestHTTP downloads and parses a dataset.yaml manifest from a
// remote catalog URL. client may be nil, in which case http.DefaultClient
// is used.
func FetchManifestHTTP(client *http.Client, url string) (Manifest, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(url)
	if err != nil {
		return Manifest{}, status.Errorf(codes.Unavailable, "Failed to fetch dataset manifest %s: %s", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Manifest{}, status.Errorf(codes.Unavailable, "Dataset manifest %s returned status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Manifest{}, status.Errorf(codes.Unavailable, "Failed to read dataset manifest %s: %s", url, err)
	}
	return ParseManifest(data)
}

// Resolved is the (remote_url, local_cache_path, merkle_ref_path) triple
// the core's mafile.Open accepts.
type Resolved struct {
	RemoteURL      string
	LocalCachePath string
	MerkleRefPath  string
	// VectorType and Dim are only meaningful when HasVectorLayout is
	// true; a manifest view that doesn't declare vector_type/dim
	// (e.g. the index and distance views) leaves these at their zero
	// values.
	VectorType      vectorcodec.VectorType
	Dim             int
	HasVectorLayout bool
}

// Resolve locates profile within the manifest and view within the
// profile, and derives the local cache path as
// <cacheRoot>/<dataset>/<profile>/<view><ext>, where <ext> is the file
// extension of the view's remote_url (e.g. base_vectors.fvecs); the
// local reference path is that cache path with ".mref" appended. This
// layout is what this package's sole job is to compute.
func Resolve(m Manifest, profileName string, view View, cacheRoot string) (Resolved, error) {
	profile, ok := m.Profiles[profileName]
	if !ok {
		return Resolved{}, status.Errorf(codes.NotFound, "Dataset %s has no profile %q", m.Name, profileName)
	}

	vm, ok := viewManifest(profile, view)
	if !ok {
		return Resolved{}, status.Errorf(codes.InvalidArgument, "Unknown view %q", view)
	}
	if vm.RemoteURL == "" || vm.MerkleRef == "" {
		return Resolved{}, status.Errorf(codes.NotFound, "Dataset %s profile %s declares no %s view", m.Name, profileName, view)
	}

	localDir := filepath.Join(cacheRoot, m.Name, profileName)
	localCachePath := filepath.Join(localDir, string(view)+filepath.Ext(vm.RemoteURL))

	resolved := Resolved{
		RemoteURL:      vm.RemoteURL,
		LocalCachePath: localCachePath,
		MerkleRefPath:  filepath.Join(localDir, string(view)+filepath.Ext(vm.RemoteURL)+".mref"),
	}

	if vm.VectorType != "" {
		vt, err := vectorcodec.ParseVectorType(vm.VectorType)
		if err != nil {
			return Resolved{}, status.Errorf(codes.InvalidArgument, "Dataset %s profile %s view %s: %s", m.Name, profileName, view, err)
		}
		if vm.Dim <= 0 {
			return Resolved{}, status.Errorf(codes.InvalidArgument, "Dataset %s profile %s view %s declares vector_type but no positive dim", m.Name, profileName, view)
		}
		resolved.VectorType = vt
		resolved.Dim = vm.Dim
		resolved.HasVectorLayout = true
	}

	return resolved, nil
}

func viewManifest(p Profile, v View) (ViewManifest, bool) {
	switch v {
	case BaseVectors:
		return p.BaseVectors, true
	case QueryVectors:
		return p.QueryVectors, true
	case NeighborsIndices:
		return p.NeighborsIndices, true
	case NeighborsDistances:
		return p.NeighborsDistances, true
	default:
		return ViewManifest{}, false
	}
}

// EnsureLocalDir creates the local cache directory a Resolved triple's
// LocalCachePath lives in, if it does not already exist.
func EnsureLocalDir(r Resolved) error {
	dir := filepath.Dir(r.LocalCachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return status.Errorf(codes.Internal, "Failed to create cache directory %#v: %s", dir, err)
	}
	return nil
}

// DownloadMerkleRef downloads the merkle reference named by a Resolved
// triple's MerkleRefPath's remote counterpart (RemoteURL with ".mref"
// appended, per the repository's persisted-state layout; the view's
// merkle_ref manifest field is not consulted) to MerkleRefPath, if it
// is not already present locally. The
// .mref file is small (a handful of hashes per megabyte of content) and
// is always fetched in full, never chunked.
func DownloadMerkleRef(client *http.Client, r Resolved) error {
	if _, err := os.Stat(r.MerkleRefPath); err == nil {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	refURL := r.RemoteURL + ".mref"
	resp, err := client.Get(refURL)
	if err != nil {
		return status.Errorf(codes.Unavailable, "Failed to fetch merkle reference %s: %s", refURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return status.Errorf(codes.Unavailable, "Merkle reference %s returned status %d", refURL, resp.StatusCode)
	}

	if err := EnsureLocalDir(r); err != nil {
		return err
	}
	tmpPath := r.MerkleRefPath + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	f, err := os.Create(tmpPath)
	if err != nil {
		return status.Errorf(codes.Internal, "Failed to create temporary reference file %#v: %s", tmpPath, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return status.Errorf(codes.Unavailable, "Failed to download merkle reference %s: %s", refURL, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return status.Errorf(codes.Internal, "Failed to close temporary reference file %#v: %s", tmpPath, err)
	}
	if err := os.Rename(tmpPath, r.MerkleRefPath); err != nil {
		os.Remove(tmpPath)
		return status.Errorf(codes.Internal, "Failed to install merkle reference at %#v: %s", r.MerkleRefPath, err)
	}
	return nil
}
