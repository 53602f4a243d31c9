package fs

import (
	"fmt"

	. "github.com/weberc2/sofs13/pkg/types"
)

// Access operation bits for AccessGranted.
const (
	PermRead  Mode = 0x4
	PermWrite Mode = 0x2
	PermExec  Mode = 0x1
)

// AccessGranted checks the access rights of the calling process on inode
// nInode against the requested operation mask, a non-empty subset of
// {PermRead, PermWrite, PermExec}. Root is granted reading and writing
// unconditionally, and execution when any of the three execution bits is set.
func AccessGranted(fs *FileSystem, nInode InodeNo, op Mode) error {
	if op == 0 || op&^(PermRead|PermWrite|PermExec) != 0 {
		return fmt.Errorf(
			"checking access `%#x` on inode `%d`: %w",
			uint16(op),
			nInode,
			ErrInvalid,
		)
	}
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return fmt.Errorf(
			"checking access `%#x` on inode `%d`: %w",
			uint16(op),
			nInode,
			err,
		)
	}

	if fs.Proc.UID == 0 {
		if op&PermExec == 0 {
			return nil
		}
		anyExec := ino.Mode&(ModeExecUser|ModeExecGroup|ModeExecOther) != 0
		if anyExec {
			return nil
		}
		return fmt.Errorf(
			"checking access `%#x` on inode `%d`: %w",
			uint16(op),
			nInode,
			ErrAccess,
		)
	}

	var granted Mode
	switch {
	case fs.Proc.UID == ino.Owner:
		granted = (ino.Mode >> 6) & 0x7
	case fs.Proc.GID == ino.Group:
		granted = (ino.Mode >> 3) & 0x7
	default:
		granted = ino.Mode & 0x7
	}
	if op&granted != op {
		return fmt.Errorf(
			"checking access `%#x` on inode `%d` granted `%#x`: %w",
			uint16(op),
			nInode,
			uint16(granted),
			ErrAccess,
		)
	}
	return nil
}
