package fs

import (
	"errors"
	"fmt"

	. "github.com/weberc2/sofs13/pkg/types"
)

// Namespace operations: the path-level surface consumed by the mount glue.
// Every operation is all-or-nothing at the level of the directory-layer calls
// it is built from.

// resolveParent resolves the directory that holds the rightmost component of
// path and returns its inode number together with the component name.
func resolveParent(fs *FileSystem, path string) (InodeNo, string, error) {
	if path == "" {
		return NullInode, "", ErrInvalid
	}
	if len(path) > MaxPath {
		return NullInode, "", ErrNameTooLong
	}
	if path[0] != '/' {
		return NullInode, "", ErrRelPath
	}
	dirPart, base := splitPath(path)
	if base == "." {
		return NullInode, "", ErrInvalid
	}
	if dirPart == "/" {
		return InodeRoot, base, nil
	}
	_, nDir, err := GetDirEntryByPath(fs, dirPart)
	if err != nil {
		return NullInode, "", err
	}
	ino, err := ReadInode(fs, nDir, StatusInUse)
	if err != nil {
		return NullInode, "", err
	}
	if !ino.Mode.IsDir() {
		return NullInode, "", ErrNotDir
	}
	return nDir, base, nil
}

// create allocates an inode of the given type with the given permissions and
// links it under path.
func create(fs *FileSystem, path string, t Mode, perm Mode) (InodeNo, error) {
	nDir, base, err := resolveParent(fs, path)
	if err != nil {
		return NullInode, err
	}
	// Settle every name objection before allocating the inode.
	if err := validEntryName(base); err != nil {
		return NullInode, err
	}
	if base == "." || base == ".." {
		return NullInode, ErrInvalid
	}
	if _, _, err := GetDirEntryByName(fs, nDir, base); err == nil {
		return NullInode, ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return NullInode, err
	}
	nInode, err := AllocInode(fs, t)
	if err != nil {
		return NullInode, err
	}
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return NullInode, err
	}
	ino.Mode |= perm & ModePermMask
	if err := WriteInode(fs, &ino, nInode, StatusInUse); err != nil {
		return NullInode, err
	}
	if err := AddAttachDirEntry(fs, nDir, base, nInode, OpAdd); err != nil {
		return NullInode, err
	}
	return nInode, nil
}

// Create makes a regular file at path with the given permission bits.
func Create(fs *FileSystem, path string, perm Mode) (InodeNo, error) {
	nInode, err := create(fs, path, ModeFile, perm)
	if err != nil {
		return NullInode, fmt.Errorf("creating file `%s`: %w", path, err)
	}
	return nInode, nil
}

// MkDir makes a directory at path with the given permission bits.
func MkDir(fs *FileSystem, path string, perm Mode) (InodeNo, error) {
	nInode, err := create(fs, path, ModeDir, perm)
	if err != nil {
		return NullInode, fmt.Errorf("creating directory `%s`: %w", path, err)
	}
	return nInode, nil
}

// MkSymlink makes a symbolic link at path whose contents are target.
func MkSymlink(fs *FileSystem, path string, target string) (InodeNo, error) {
	wrap := func(err error) error {
		return fmt.Errorf(
			"creating symlink `%s` -> `%s`: %w",
			path,
			target,
			err,
		)
	}
	if target == "" || len(target) > MaxPath {
		return NullInode, wrap(ErrNameTooLong)
	}
	nInode, err := create(
		fs,
		path,
		ModeSymlink,
		ModePermMask, // path resolution checks execution on the link
	)
	if err != nil {
		return NullInode, wrap(err)
	}
	var buf [ClusterSize]byte
	copy(buf[:], target)
	if err := WriteFileCluster(fs, nInode, 0, &buf); err != nil {
		return NullInode, wrap(err)
	}
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return NullInode, wrap(err)
	}
	ino.Size = Byte(len(target))
	if err := WriteInode(fs, &ino, nInode, StatusInUse); err != nil {
		return NullInode, wrap(err)
	}
	return nInode, nil
}

// Link makes a hard link at newPath to the regular file or symlink at
// oldPath.
func Link(fs *FileSystem, oldPath string, newPath string) error {
	wrap := func(err error) error {
		return fmt.Errorf("linking `%s` to `%s`: %w", newPath, oldPath, err)
	}
	oldDir, oldBase, err := resolveParent(fs, oldPath)
	if err != nil {
		return wrap(err)
	}
	// The last component is not followed, so a symlink itself gets linked.
	nInode, _, err := GetDirEntryByName(fs, oldDir, oldBase)
	if err != nil {
		return wrap(err)
	}
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return wrap(err)
	}
	if ino.Mode.IsDir() {
		return wrap(ErrIsDir)
	}
	nDir, base, err := resolveParent(fs, newPath)
	if err != nil {
		return wrap(err)
	}
	if err := AddAttachDirEntry(fs, nDir, base, nInode, OpAdd); err != nil {
		return wrap(err)
	}
	return nil
}

// Unlink removes the directory entry at path; the file itself is deleted
// once no hard link references it.
func Unlink(fs *FileSystem, path string) error {
	nDir, base, err := resolveParent(fs, path)
	if err != nil {
		return fmt.Errorf("unlinking `%s`: %w", path, err)
	}
	nInode, _, err := GetDirEntryByName(fs, nDir, base)
	if err != nil {
		return fmt.Errorf("unlinking `%s`: %w", path, err)
	}
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return fmt.Errorf("unlinking `%s`: %w", path, err)
	}
	if ino.Mode.IsDir() {
		return fmt.Errorf("unlinking `%s`: %w", path, ErrIsDir)
	}
	if err := RemDetachDirEntry(fs, nDir, base, OpRem); err != nil {
		return fmt.Errorf("unlinking `%s`: %w", path, err)
	}
	return nil
}

// RmDir removes the empty directory at path.
func RmDir(fs *FileSystem, path string) error {
	nDir, base, err := resolveParent(fs, path)
	if err != nil {
		return fmt.Errorf("removing directory `%s`: %w", path, err)
	}
	nInode, _, err := GetDirEntryByName(fs, nDir, base)
	if err != nil {
		return fmt.Errorf("removing directory `%s`: %w", path, err)
	}
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return fmt.Errorf("removing directory `%s`: %w", path, err)
	}
	if !ino.Mode.IsDir() {
		return fmt.Errorf("removing directory `%s`: %w", path, ErrNotDir)
	}
	if err := RemDetachDirEntry(fs, nDir, base, OpRem); err != nil {
		return fmt.Errorf("removing directory `%s`: %w", path, err)
	}
	return nil
}

// Rename moves the entry at oldPath to newPath. Within one directory the
// entry is renamed in place. Across directories a file or symlink is linked
// under the new parent and then detached from the old one, while a directory
// is detached from the old parent first and then attached to the new one.
func Rename(fs *FileSystem, oldPath string, newPath string) error {
	wrap := func(err error) error {
		return fmt.Errorf("renaming `%s` to `%s`: %w", oldPath, newPath, err)
	}
	oldDir, oldBase, err := resolveParent(fs, oldPath)
	if err != nil {
		return wrap(err)
	}
	newDir, newBase, err := resolveParent(fs, newPath)
	if err != nil {
		return wrap(err)
	}
	if oldDir == newDir {
		if err := RenameDirEntry(fs, oldDir, oldBase, newBase); err != nil {
			return wrap(err)
		}
		return nil
	}
	nInode, _, err := GetDirEntryByName(fs, oldDir, oldBase)
	if err != nil {
		return wrap(err)
	}
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return wrap(err)
	}
	if ino.Mode.IsDir() {
		// Detach first: attaching rewrites the subsidiary's `..`, which the
		// detachment would otherwise clear again.
		if err := RemDetachDirEntry(fs, oldDir, oldBase, OpDetach); err != nil {
			return wrap(err)
		}
		if err := AddAttachDirEntry(
			fs,
			newDir,
			newBase,
			nInode,
			OpAttach,
		); err != nil {
			return wrap(err)
		}
		return nil
	}
	if err := AddAttachDirEntry(fs, newDir, newBase, nInode, OpAdd); err != nil {
		return wrap(err)
	}
	if err := RemDetachDirEntry(fs, oldDir, oldBase, OpDetach); err != nil {
		return wrap(err)
	}
	return nil
}

// Stat resolves path and returns the inode number and contents describing it.
func Stat(fs *FileSystem, path string) (InodeNo, Inode, error) {
	if path == "/" {
		ino, err := ReadInode(fs, InodeRoot, StatusInUse)
		if err != nil {
			return NullInode, Inode{}, fmt.Errorf(
				"statting `%s`: %w",
				path,
				err,
			)
		}
		return InodeRoot, ino, nil
	}
	_, nInode, err := GetDirEntryByPath(fs, path)
	if err != nil {
		return NullInode, Inode{}, fmt.Errorf("statting `%s`: %w", path, err)
	}
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return NullInode, Inode{}, fmt.Errorf("statting `%s`: %w", path, err)
	}
	return nInode, ino, nil
}

// DirListing is one in-use entry of a directory.
type DirListing struct {
	Name string
	Ino  InodeNo
}

// ReadDir lists the in-use entries of the directory inode nInode, including
// `.` and `..`. The calling process needs reading permission.
func ReadDir(fs *FileSystem, nInode InodeNo) ([]DirListing, error) {
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return nil, fmt.Errorf("listing directory inode `%d`: %w", nInode, err)
	}
	if !ino.Mode.IsDir() {
		return nil, fmt.Errorf(
			"listing directory inode `%d`: %w",
			nInode,
			ErrNotDir,
		)
	}
	if err := AccessGranted(fs, nInode, PermRead); err != nil {
		return nil, fmt.Errorf("listing directory inode `%d`: %w", nInode, err)
	}
	var out []DirListing
	clusters := uint32(ino.Size / ClusterSize)
	for c := uint32(0); c < clusters; c++ {
		var entries [DirEntriesPerCluster]DirEntry
		if err := readDirCluster(fs, nInode, c, &entries); err != nil {
			return nil, fmt.Errorf(
				"listing directory inode `%d`: %w",
				nInode,
				err,
			)
		}
		for i := range entries {
			if entries[i].InUse() {
				out = append(out, DirListing{
					Name: entries[i].EntryName(),
					Ino:  entries[i].Ino,
				})
			}
		}
	}
	return out, nil
}

// ReadLink returns the target of the symbolic link at inode nInode.
func ReadLink(fs *FileSystem, nInode InodeNo) (string, error) {
	ino, err := ReadInode(fs, nInode, StatusInUse)
	if err != nil {
		return "", fmt.Errorf("reading link inode `%d`: %w", nInode, err)
	}
	if !ino.Mode.IsSymlink() {
		return "", fmt.Errorf(
			"reading link inode `%d`: %w",
			nInode,
			ErrInvalid,
		)
	}
	target, err := readSymlinkTarget(fs, nInode)
	if err != nil {
		return "", fmt.Errorf("reading link inode `%d`: %w", nInode, err)
	}
	return target, nil
}
