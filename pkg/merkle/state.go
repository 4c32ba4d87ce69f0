package merkle

import (
	"crypto/sha256"
	"encoding/binary"
	"os"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// openStatePaths tracks .mrkl files that currently have a State open
// against them in this process. It implements the "advisory lock"
// ownership rule from the design notes: the .mrkl file is exclusively
// owned by one MAFileChannel at a time. This module does not attempt
// cross-process locking (flock); two concurrent processes sharing a
// cache directory are explicitly unsupported.
var (
	openStatePathsMu sync.Mutex
	openStatePaths   = map[string]struct{}{}
)

// State is the mutable, per-cache companion to a Ref: for each chunk, it
// tracks whether the bytes currently sitting in the local cache file
// have been verified against the reference. State is safe for
// concurrent use; all bitset mutations are serialized by a single lock,
// and MarkValid does not return until the updated bit is durable on
// disk.
type State struct {
	mu    sync.Mutex
	shape Shape
	root  [HashSize]byte
	valid []byte // bitset; bit i <-> leaf i, LSB of byte 0 = leaf 0

	file *os.File
	path string
}

// OpenOrCreate opens the .mrkl file at path, or creates a fresh
// all-zero-bit one if it does not exist. If the file exists, its shape
// and root hash must agree with ref; a disagreement is reported as
// ErrMismatch and requires the operator to delete the stale .mrkl file.
//
// If the persisted footer digest does not verify (e.g. a crash occurred
// between writing the bitset and writing the footer on a prior run),
// the state is treated as if it were empty rather than as an error: all
// chunks re-verify lazily against whatever bytes are already sitting in
// the cache file.
func OpenOrCreate(path string, ref Ref) (*State, error) {
	openStatePathsMu.Lock()
	if _, busy := openStatePaths[path]; busy {
		openStatePathsMu.Unlock()
		return nil, status.Errorf(codes.FailedPrecondition, "State file %#v is already open in this process", path)
	}
	openStatePaths[path] = struct{}{}
	openStatePathsMu.Unlock()

	s, err := openOrCreateLocked(path, ref)
	if err != nil {
		openStatePathsMu.Lock()
		delete(openStatePaths, path)
		openStatePathsMu.Unlock()
		return nil, err
	}
	return s, nil
}

func openOrCreateLocked(path string, ref Ref) (*State, error) {
	shape := ref.Shape()
	bitsetLen := int(bitsetSize(shape.LeafCount()))

	data, readErr := os.ReadFile(path)
	var valid []byte
	switch {
	case os.IsNotExist(readErr):
		valid = make([]byte, bitsetLen)
	case readErr != nil:
		return nil, ErrIO("Failed to read state file %#v: %s", path, readErr)
	default:
		fileShape, fileRoot, decodedValid, ok, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		if !ok {
			valid = make([]byte, bitsetLen)
		} else {
			if !fileShape.Equal(shape) {
				return nil, ErrMismatch("State file %#v shape does not match the reference", path)
			}
			if fileRoot != ref.RootHash() {
				return nil, ErrMismatch("State file %#v root hash does not match the reference", path)
			}
			valid = decodedValid
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, ErrIO("Failed to open state file %#v: %s", path, err)
	}

	s := &State{
		shape: shape,
		root:  ref.RootHash(),
		valid: valid,
		file:  f,
		path:  path,
	}
	if readErr != nil && os.IsNotExist(readErr) {
		if err := s.persistLocked(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// IsValid reports whether chunk i's bytes in the cache file have been
// verified against the reference.
func (s *State) IsValid(i int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.testBitLocked(i)
}

func (s *State) testBitLocked(i int64) bool {
	return s.valid[i/8]&(1<<uint(i%8)) != 0
}

// MarkValid sets bit i, indicating that the bytes in the cache file for
// chunk i have been verified. It does not return until the bit is
// durable on disk: no dependent chunk-completion future may resolve
// before this call returns. MarkValid is idempotent.
func (s *State) MarkValid(i int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.testBitLocked(i) {
		return nil
	}
	s.valid[i/8] |= 1 << uint(i%8)
	if err := s.persistLocked(); err != nil {
		s.valid[i/8] &^= 1 << uint(i%8)
		return err
	}
	return nil
}

// Invalidate clears bit i. It is used by write paths that replace a
// chunk's bytes with data that no longer matches the reference hash
// (which, under this module's write semantics, should never happen in
// practice, but is provided so a caller can explicitly force
// re-verification of a chunk).
func (s *State) Invalidate(i int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.testBitLocked(i) {
		return nil
	}
	s.valid[i/8] &^= 1 << uint(i%8)
	return s.persistLocked()
}

// persistLocked implements the three-step persistence protocol: write
// the modified bitset byte(s), recompute and write the footer digest,
// then fsync. Every call rewrites the full bitset and footer region
// rather than tracking exactly which byte changed; the region is small
// (at most a few hundred KiB even for datasets with millions of chunks)
// and a full rewrite keeps the on-disk bytes identical to what
// encodeState produces for the same shape, root and bitset.
func (s *State) persistLocked() error {
	header := make([]byte, mrklHeaderSize)
	copy(header[0:4], mrklMagic[:])
	binary.LittleEndian.PutUint32(header[4:8], mrklVersion)
	copy(header[8:8+HashSize], s.root[:])
	offset := 8 + HashSize
	binary.LittleEndian.PutUint64(header[offset:offset+8], uint64(s.shape.ContentSizeBytes()))
	binary.LittleEndian.PutUint64(header[offset+8:offset+16], uint64(s.shape.ChunkSizeBytes()))
	binary.LittleEndian.PutUint64(header[offset+16:offset+24], uint64(s.shape.LeafCount()))

	if _, err := s.file.WriteAt(header, 0); err != nil {
		return ErrIO("Failed to write state file %#v header: %s", s.path, err)
	}
	if _, err := s.file.WriteAt(s.valid, mrklHeaderSize); err != nil {
		return ErrIO("Failed to write state file %#v bitset: %s", s.path, err)
	}

	footerInput := make([]byte, 0, mrklHeaderSize+len(s.valid))
	footerInput = append(footerInput, header...)
	footerInput = append(footerInput, s.valid...)
	footer := sha256.Sum256(footerInput)
	if _, err := s.file.WriteAt(footer[:], int64(mrklHeaderSize+len(s.valid))); err != nil {
		return ErrIO("Failed to write state file %#v footer: %s", s.path, err)
	}

	if err := s.file.Sync(); err != nil {
		return ErrIO("Failed to synchronize state file %#v: %s", s.path, err)
	}
	return nil
}

// Close flushes any pending state and releases the file's ownership
// lock. Close is idempotent.
func (s *State) Close() error {
	if s.file == nil {
		return nil
	}

	openStatePathsMu.Lock()
	delete(openStatePaths, s.path)
	openStatePathsMu.Unlock()

	err := s.file.Close()
	s.file = nil
	if err != nil {
		return ErrIO("Failed to close state file %#v: %s", s.path, err)
	}
	return nil
}
