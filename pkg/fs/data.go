package fs

import (
	"fmt"
	"io"

	. "github.com/weberc2/sofs13/pkg/types"
)

// ReadInodeData reads up to len(p) bytes of file data starting at offset,
// clamped to the file size. It returns the number of bytes read and io.EOF
// when the offset is at or beyond the end of the file.
func ReadInodeData(
	fs *FileSystem,
	nInode InodeNo,
	offset Byte,
	p []byte,
) (int, error) {
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return 0, fmt.Errorf(
			"reading data of inode `%d` at `%d`: %w",
			nInode,
			offset,
			err,
		)
	}
	if offset >= ino.Size {
		return 0, io.EOF
	}
	if Byte(len(p)) > ino.Size-offset {
		p = p[:ino.Size-offset]
	}

	var buf [ClusterSize]byte
	done := 0
	for done < len(p) {
		clustInd, within, err := FilePos(offset + Byte(done))
		if err != nil {
			return done, fmt.Errorf(
				"reading data of inode `%d` at `%d`: %w",
				nInode,
				offset,
				err,
			)
		}
		if err := ReadFileCluster(fs, nInode, clustInd, &buf); err != nil {
			return done, fmt.Errorf(
				"reading data of inode `%d` at `%d`: %w",
				nInode,
				offset,
				err,
			)
		}
		done += copy(p[done:], buf[within:])
	}
	return done, nil
}

// WriteInodeData writes len(p) bytes of file data starting at offset, growing
// the file size as needed. Writing past the maximum file size fails with
// ErrInvalid before any byte is written.
func WriteInodeData(
	fs *FileSystem,
	nInode InodeNo,
	offset Byte,
	p []byte,
) (int, error) {
	wrap := func(err error) error {
		return fmt.Errorf(
			"writing data of inode `%d` at `%d`: %w",
			nInode,
			offset,
			err,
		)
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := uint64(offset) + uint64(len(p))
	if end > uint64(MaxFileSize) {
		return 0, wrap(ErrInvalid)
	}
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return 0, wrap(err)
	}

	var buf [ClusterSize]byte
	done := 0
	for done < len(p) {
		clustInd, within, err := FilePos(offset + Byte(done))
		if err != nil {
			return done, wrap(err)
		}
		chunk := ClusterSize - int(within)
		if chunk > len(p)-done {
			chunk = len(p) - done
		}
		if chunk < ClusterSize {
			// Partial cluster: preserve the bytes around the chunk.
			if err := ReadFileCluster(fs, nInode, clustInd, &buf); err != nil {
				return done, wrap(err)
			}
		}
		copy(buf[within:], p[done:done+chunk])
		if err := WriteFileCluster(fs, nInode, clustInd, &buf); err != nil {
			return done, wrap(err)
		}
		done += chunk
	}

	if Byte(end) > ino.Size {
		// The cluster writes above rewrote the inode on disk; refresh before
		// extending the recorded size.
		if ino, err = ReadInode(fs, nInode, StatusInUse); err != nil {
			return done, wrap(err)
		}
		ino.Size = Byte(end)
		if err := WriteInode(fs, &ino, nInode, StatusInUse); err != nil {
			return done, wrap(err)
		}
	}
	return done, nil
}

// TruncateInodeData shrinks or grows the file to size bytes. Shrinking frees
// and dissociates every cluster wholly past the new end; the bytes of the last
// kept cluster past the new end are not cleared. Growing only extends the
// recorded size: unallocated clusters in the new span read as zeros, while
// the uncleared tail of a kept cluster reads back with its old contents.
func TruncateInodeData(fs *FileSystem, nInode InodeNo, size Byte) error {
	wrap := func(err error) error {
		return fmt.Errorf(
			"truncating inode `%d` to `%d`: %w",
			nInode,
			size,
			err,
		)
	}
	if size > MaxFileSize {
		return wrap(ErrInvalid)
	}
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return wrap(err)
	}
	if size < ino.Size {
		keep := uint32((size + ClusterSize - 1) / ClusterSize)
		if keep < uint32(MaxFileClusters) && ino.CluCount > 0 {
			if err := HandleFileClusters(fs, nInode, keep, OpFreeClean); err != nil {
				return wrap(err)
			}
		}
		if ino, err = ReadInode(fs, nInode, StatusInUse); err != nil {
			return wrap(err)
		}
	}
	ino.Size = size
	if err := WriteInode(fs, &ino, nInode, StatusInUse); err != nil {
		return wrap(err)
	}
	return nil
}
