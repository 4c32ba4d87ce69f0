package blockdevice

import (
	"os"

	"github.com/nosqlbench/vdatasets/pkg/util"
)

// NewSparseCacheFile opens (or creates) a regular file to be used as the
// backing store for a content-addressed cache. The file is truncated to
// exactly sizeBytes, which on every mainstream filesystem creates a
// sparse file: no disk blocks are allocated until a WriteAt() call
// actually touches a given region.
//
// Unlike NewBlockDeviceFromDevice in the original block device package,
// this constructor never memory-maps the file and never rounds the
// requested size up to a sector boundary. Callers (the Merkle file
// channel) already know the exact logical size of the content they are
// caching, and positional ReadAt()/WriteAt() calls are sufficient: the
// chunk sizes involved are measured in megabytes, not device sectors.
func NewSparseCacheFile(path string, sizeBytes int64) (BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to open cache file %#v", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, util.StatusWrapf(err, "Failed to stat cache file %#v", path)
	}
	if info.Size() != sizeBytes {
		if err := f.Truncate(sizeBytes); err != nil {
			f.Close()
			return nil, util.StatusWrapf(err, "Failed to truncate cache file %#v to %d bytes", path, sizeBytes)
		}
	}
	return f, nil
}
