// Package fs implements the SOFS13 internal object layer: allocators,
// file-cluster indexing, the directory layer and the formatter, all driven
// through the metadata cache of an open volume.
//
// The layer is single-threaded and non-reentrant: a FileSystem assumes exactly
// one in-flight chain of operations, and callers serialize externally.
package fs

import (
	"fmt"
	"os"
	"time"

	"github.com/weberc2/sofs13/pkg/cache"
	"github.com/weberc2/sofs13/pkg/device"
	. "github.com/weberc2/sofs13/pkg/types"
)

// Process identifies the calling user for ownership and permission checks.
type Process struct {
	UID uint32
	GID uint32
}

// FileSystem is the open handle over a formatted volume. All layered
// operations take it as their first argument.
type FileSystem struct {
	Dev  *device.Device
	Meta *cache.Meta
	Proc Process
}

// Open binds a FileSystem to the backing file at path. The superblock must
// pass the quick consistency check; the mount status is flipped to dirty and
// stays so until Close.
func Open(path string) (*FileSystem, error) {
	dev, err := device.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file system: %w", err)
	}
	fs := &FileSystem{
		Dev:  dev,
		Meta: cache.NewMeta(dev),
		Proc: Process{UID: uint32(os.Getuid()), GID: uint32(os.Getgid())},
	}
	sb, err := fs.superblock()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("opening file system: %w", err)
	}
	if err := QCheckSuperblock(sb); err != nil {
		dev.Close()
		return nil, fmt.Errorf("opening file system: %w", err)
	}
	sb.MStat = MountedDirty
	if err := fs.Meta.StoreSuperblock(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("opening file system: %w", err)
	}
	return fs, nil
}

// Close drains the insertion cache back into the bitmap, marks the volume
// properly unmounted and releases the device.
func (fs *FileSystem) Close() error {
	sb, err := fs.superblock()
	if err != nil {
		fs.Dev.Close()
		return fmt.Errorf("closing file system: %w", err)
	}
	if err := deplete(fs, sb); err != nil {
		fs.Dev.Close()
		return fmt.Errorf("closing file system: %w", err)
	}
	sb.MStat = MountedClean
	if err := fs.Meta.StoreSuperblock(); err != nil {
		fs.Dev.Close()
		return fmt.Errorf("closing file system: %w", err)
	}
	if err := fs.Dev.Close(); err != nil {
		return fmt.Errorf("closing file system: %w", err)
	}
	return nil
}

// Statvfs returns a copy of the superblock for volume-level statistics.
func Statvfs(fs *FileSystem) (Superblock, error) {
	sb, err := fs.superblock()
	if err != nil {
		return Superblock{}, fmt.Errorf("statting volume: %w", err)
	}
	return *sb, nil
}

// superblock loads (if needed) and returns the cached superblock.
func (fs *FileSystem) superblock() (*Superblock, error) {
	if err := fs.Meta.LoadSuperblock(); err != nil {
		return nil, err
	}
	return fs.Meta.Superblock()
}

func now() uint32 { return uint32(time.Now().Unix()) }
