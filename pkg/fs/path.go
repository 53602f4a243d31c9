package fs

import (
	"fmt"
	"strings"

	. "github.com/weberc2/sofs13/pkg/types"
)

// symlinkBudget caps how many symbolic links a single path resolution may
// descend into.
const symlinkBudget = 1

// GetDirEntryByPath resolves the absolute path ePath and returns the inode of
// the directory holding its rightmost component and the inode of the
// component itself. Every component but the last must be a directory (or a
// symbolic link to one) with execution permission for the calling process.
func GetDirEntryByPath(
	fs *FileSystem,
	ePath string,
) (InodeNo, InodeNo, error) {
	wrap := func(err error) error {
		return fmt.Errorf("resolving path `%s`: %w", ePath, err)
	}
	if ePath == "" {
		return NullInode, NullInode, wrap(ErrInvalid)
	}
	if len(ePath) > MaxPath {
		return NullInode, NullInode, wrap(ErrNameTooLong)
	}
	if ePath[0] != '/' {
		return NullInode, NullInode, wrap(ErrRelPath)
	}
	budget := symlinkBudget
	nInodeDir, nInodeEnt, err := traversePath(fs, ePath, InodeRoot, &budget)
	if err != nil {
		return NullInode, NullInode, wrap(err)
	}
	return nInodeDir, nInodeEnt, nil
}

// splitPath decomposes a path into its directory part and its base name the
// way dirname/basename do: trailing separators are ignored, the directory
// part of a bare name is `.`, and the base name of the root is `.`.
func splitPath(path string) (string, string) {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	if path == "/" {
		return "/", "."
	}
	i := strings.LastIndexByte(path, '/')
	switch i {
	case -1:
		return ".", path
	case 0:
		return "/", path[1:]
	default:
		return path[:i], path[i+1:]
	}
}

// traversePath resolves path recursively. cwd anchors relative paths: the
// root for the user-supplied path (which is never relative), the directory
// holding a symbolic link for that link's target. budget counts the symbolic
// link descents still allowed.
func traversePath(
	fs *FileSystem,
	path string,
	cwd InodeNo,
	budget *int,
) (InodeNo, InodeNo, error) {
	dirPart, base := splitPath(path)
	if len(base) > MaxName {
		return NullInode, NullInode, ErrNameTooLong
	}

	var nInodeDir InodeNo
	switch dirPart {
	case "/":
		nInodeDir = InodeRoot
	case ".":
		nInodeDir = cwd
	default:
		_, ent, err := traversePath(fs, dirPart, cwd, budget)
		if err != nil {
			return NullInode, NullInode, err
		}
		nInodeDir = ent
	}

	if err := AccessGranted(fs, nInodeDir, PermExec); err != nil {
		return NullInode, NullInode, err
	}
	nInodeEnt, _, err := GetDirEntryByName(fs, nInodeDir, base)
	if err != nil {
		return NullInode, NullInode, err
	}
	ino, err := ReadInode(fs, nInodeEnt, StatusInUse)
	if err != nil {
		return NullInode, NullInode, err
	}

	if ino.Mode.IsSymlink() {
		if *budget == 0 {
			return NullInode, NullInode, ErrLoop
		}
		*budget--
		if err := AccessGranted(fs, nInodeEnt, PermExec); err != nil {
			return NullInode, NullInode, err
		}
		target, err := readSymlinkTarget(fs, nInodeEnt)
		if err != nil {
			return NullInode, NullInode, err
		}
		if len(target) > MaxPath {
			return NullInode, NullInode, ErrNameTooLong
		}
		// A relative target resolves against the directory holding the link.
		return traversePath(fs, target, nInodeDir, budget)
	}
	return nInodeDir, nInodeEnt, nil
}

// readSymlinkTarget reads the null-terminated target path stored in cluster 0
// of a symbolic link inode.
func readSymlinkTarget(fs *FileSystem, nInode InodeNo) (string, error) {
	var buf [ClusterSize]byte
	if err := ReadFileCluster(fs, nInode, 0, &buf); err != nil {
		return "", err
	}
	end := len(buf)
	for i, c := range buf {
		if c == 0 {
			end = i
			break
		}
	}
	if end == 0 {
		return "", ErrInvalid
	}
	return string(buf[:end]), nil
}
