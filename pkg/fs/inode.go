package fs

import (
	"fmt"

	. "github.com/weberc2/sofs13/pkg/types"
)

// InodeStatus selects which lifecycle state an inode access expects.
type InodeStatus int

const (
	// StatusInUse expects an inode in use with a legal file type.
	StatusInUse InodeStatus = iota
	// StatusFreeDirty expects an inode freed but not yet cleaned.
	StatusFreeDirty
)

// ReadInode copies inode nInode out of the table. The inode must match the
// expected status. Reading an in-use inode refreshes its access time on disk.
func ReadInode(
	fs *FileSystem,
	nInode InodeNo,
	status InodeStatus,
) (Inode, error) {
	if status != StatusInUse && status != StatusFreeDirty {
		return Inode{}, fmt.Errorf(
			"reading inode `%d`: bad status `%d`: %w",
			nInode,
			status,
			ErrInvalid,
		)
	}
	sb, err := fs.superblock()
	if err != nil {
		return Inode{}, fmt.Errorf("reading inode `%d`: %w", nInode, err)
	}
	nBlk, off, err := InodeTablePos(sb, nInode)
	if err != nil {
		return Inode{}, fmt.Errorf("reading inode `%d`: %w", nInode, err)
	}
	if err := fs.Meta.LoadInodeBlock(nBlk); err != nil {
		return Inode{}, fmt.Errorf("reading inode `%d`: %w", nInode, err)
	}
	block, err := fs.Meta.InodeBlock()
	if err != nil {
		return Inode{}, fmt.Errorf("reading inode `%d`: %w", nInode, err)
	}
	ino := &block[off]
	switch status {
	case StatusInUse:
		if err := QCheckInodeInUse(sb, ino); err != nil {
			return Inode{}, fmt.Errorf("reading inode `%d`: %w", nInode, err)
		}
		ino.Times.ATime = now()
		if err := fs.Meta.StoreInodeBlock(); err != nil {
			return Inode{}, fmt.Errorf("reading inode `%d`: %w", nInode, err)
		}
	case StatusFreeDirty:
		if err := QCheckFreeDirtyInode(sb, ino); err != nil {
			return Inode{}, fmt.Errorf("reading inode `%d`: %w", nInode, err)
		}
	}
	return *ino, nil
}

// WriteInode stores ino into table slot nInode. The inode must match the
// expected status; writing an in-use inode refreshes its access and
// modification times.
func WriteInode(
	fs *FileSystem,
	ino *Inode,
	nInode InodeNo,
	status InodeStatus,
) error {
	if status != StatusInUse && status != StatusFreeDirty {
		return fmt.Errorf(
			"writing inode `%d`: bad status `%d`: %w",
			nInode,
			status,
			ErrInvalid,
		)
	}
	sb, err := fs.superblock()
	if err != nil {
		return fmt.Errorf("writing inode `%d`: %w", nInode, err)
	}
	switch status {
	case StatusInUse:
		if err := QCheckInodeInUse(sb, ino); err != nil {
			return fmt.Errorf("writing inode `%d`: %w", nInode, err)
		}
	case StatusFreeDirty:
		if err := QCheckFreeDirtyInode(sb, ino); err != nil {
			return fmt.Errorf("writing inode `%d`: %w", nInode, err)
		}
	}
	nBlk, off, err := InodeTablePos(sb, nInode)
	if err != nil {
		return fmt.Errorf("writing inode `%d`: %w", nInode, err)
	}
	if err := fs.Meta.LoadInodeBlock(nBlk); err != nil {
		return fmt.Errorf("writing inode `%d`: %w", nInode, err)
	}
	block, err := fs.Meta.InodeBlock()
	if err != nil {
		return fmt.Errorf("writing inode `%d`: %w", nInode, err)
	}
	block[off] = *ino
	if status == StatusInUse {
		t := now()
		block[off].Times.ATime = t
		block[off].Times.MTime = t
	}
	if err := fs.Meta.StoreInodeBlock(); err != nil {
		return fmt.Errorf("writing inode `%d`: %w", nInode, err)
	}
	return nil
}
