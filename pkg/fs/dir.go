package fs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/weberc2/sofs13/pkg/encode"
	. "github.com/weberc2/sofs13/pkg/types"
)

// AttachMode selects how an entry joins a directory.
type AttachMode int

const (
	// OpAdd adds a generic entry; a directory entry gets its contents
	// initialized to an empty directory.
	OpAdd AttachMode = iota
	// OpAttach attaches a fully organized subsidiary directory, re-parenting
	// its `..` entry.
	OpAttach
)

// DetachMode selects how an entry leaves a directory.
type DetachMode int

const (
	// OpRem removes the entry recoverably (dirty-empty state) and deletes the
	// file once its last hard link is gone.
	OpRem DetachMode = iota
	// OpDetach erases the entry completely (clean-empty state).
	OpDetach
)

const maxRefCount = 0xFFFF

// validEntryName requires a base name: non-empty, at most MaxName bytes, and
// free of the path separator.
func validEntryName(name string) error {
	if name == "" || strings.ContainsRune(name, '/') {
		return fmt.Errorf("validating entry name `%s`: %w", name, ErrInvalid)
	}
	if len(name) > MaxName {
		return fmt.Errorf(
			"validating entry name `%s`: %w",
			name,
			ErrNameTooLong,
		)
	}
	return nil
}

// readDirCluster reads directory cluster c of inode nInode.
func readDirCluster(
	fs *FileSystem,
	nInode InodeNo,
	c uint32,
	entries *[DirEntriesPerCluster]DirEntry,
) error {
	var buf [ClusterSize]byte
	if err := ReadFileCluster(fs, nInode, c, &buf); err != nil {
		return err
	}
	encode.DecodeDirCluster(entries, &buf)
	return nil
}

// writeDirCluster writes directory cluster c of inode nInode.
func writeDirCluster(
	fs *FileSystem,
	nInode InodeNo,
	c uint32,
	entries *[DirEntriesPerCluster]DirEntry,
) error {
	var buf [ClusterSize]byte
	encode.EncodeDirCluster(entries, &buf)
	return WriteFileCluster(fs, nInode, c, &buf)
}

// GetDirEntryByName scans the directory associated with inode nInodeDir for
// an entry named name and returns its inode number and linear index. When no
// entry matches, it fails with ErrNotFound and returns the insertion point:
// the earliest clean-empty slot, or the append position past the last entry.
// The calling process needs execution permission on the directory.
func GetDirEntryByName(
	fs *FileSystem,
	nInodeDir InodeNo,
	name string,
) (InodeNo, uint32, error) {
	if err := validEntryName(name); err != nil {
		return NullInode, 0, fmt.Errorf(
			"looking up `%s` in directory inode `%d`: %w",
			name,
			nInodeDir,
			err,
		)
	}
	ino, err := ReadInode(fs, nInodeDir, StatusInUse)
	if err != nil {
		return NullInode, 0, fmt.Errorf(
			"looking up `%s` in directory inode `%d`: %w",
			name,
			nInodeDir,
			err,
		)
	}
	if !ino.Mode.IsDir() {
		return NullInode, 0, fmt.Errorf(
			"looking up `%s` in directory inode `%d`: %w",
			name,
			nInodeDir,
			ErrNotDir,
		)
	}
	if err := AccessGranted(fs, nInodeDir, PermExec); err != nil {
		return NullInode, 0, fmt.Errorf(
			"looking up `%s` in directory inode `%d`: %w",
			name,
			nInodeDir,
			err,
		)
	}
	if err := QCheckDirContents(fs, nInodeDir, &ino); err != nil {
		return NullInode, 0, fmt.Errorf(
			"looking up `%s` in directory inode `%d`: %w",
			name,
			nInodeDir,
			err,
		)
	}

	clusters := uint32(ino.Size / ClusterSize)
	firstClean := uint32(0)
	haveClean := false
	for c := uint32(0); c < clusters; c++ {
		var entries [DirEntriesPerCluster]DirEntry
		if err := readDirCluster(fs, nInodeDir, c, &entries); err != nil {
			return NullInode, 0, fmt.Errorf(
				"looking up `%s` in directory inode `%d`: %w",
				name,
				nInodeDir,
				err,
			)
		}
		for i := range entries {
			idx := c*DirEntriesPerCluster + uint32(i)
			if entries[i].CleanEmpty() {
				if !haveClean {
					firstClean = idx
					haveClean = true
				}
				continue
			}
			if entries[i].InUse() && entries[i].EntryName() == name {
				return entries[i].Ino, idx, nil
			}
		}
	}
	insert := uint32(ino.Size / DirEntrySize)
	if haveClean {
		insert = firstClean
	}
	return NullInode, insert, fmt.Errorf(
		"looking up `%s` in directory inode `%d`: %w",
		name,
		nInodeDir,
		ErrNotFound,
	)
}

// AddAttachDirEntry adds a generic entry (OpAdd) or attaches a subsidiary
// directory (OpAttach) named name to the directory associated with inode
// nInodeDir. The calling process needs writing and execution permissions on
// the directory.
func AddAttachDirEntry(
	fs *FileSystem,
	nInodeDir InodeNo,
	name string,
	nInodeEnt InodeNo,
	op AttachMode,
) error {
	wrap := func(err error) error {
		return fmt.Errorf(
			"adding entry `%s` -> inode `%d` to directory inode `%d`: %w",
			name,
			nInodeEnt,
			nInodeDir,
			err,
		)
	}
	if op != OpAdd && op != OpAttach {
		return wrap(fmt.Errorf("bad op `%d`: %w", op, ErrInvalid))
	}
	if err := validEntryName(name); err != nil {
		return wrap(err)
	}
	if name == "." || name == ".." {
		return wrap(ErrInvalid)
	}
	dir, err := ReadInode(fs, nInodeDir, StatusInUse)
	if err != nil {
		return wrap(err)
	}
	if !dir.Mode.IsDir() {
		return wrap(ErrNotDir)
	}
	if err := AccessGranted(fs, nInodeDir, PermExec); err != nil {
		return wrap(err)
	}
	if err := AccessGranted(fs, nInodeDir, PermWrite); err != nil {
		return wrap(ErrWriteDenied)
	}
	if dir.Size >= MaxFileSize {
		return wrap(ErrFileTooBig)
	}
	ent, err := ReadInode(fs, nInodeEnt, StatusInUse)
	if err != nil {
		return wrap(err)
	}
	if dir.RefCount == maxRefCount || ent.RefCount == maxRefCount {
		return wrap(ErrTooManyLinks)
	}

	_, idx, err := GetDirEntryByName(fs, nInodeDir, name)
	if err == nil {
		return wrap(ErrExists)
	}
	if !errors.Is(err, ErrNotFound) {
		return wrap(err)
	}

	switch op {
	case OpAdd:
		switch {
		case ent.Mode.IsDir():
			var entries [DirEntriesPerCluster]DirEntry
			for i := range entries {
				entries[i].Clear()
			}
			entries[0].SetName(".")
			entries[0].Ino = nInodeEnt
			entries[1].SetName("..")
			entries[1].Ino = nInodeDir
			if err := writeDirCluster(fs, nInodeEnt, 0, &entries); err != nil {
				return wrap(err)
			}
			// The cluster allocation rewrote the child inode on disk.
			if ent, err = ReadInode(fs, nInodeEnt, StatusInUse); err != nil {
				return wrap(err)
			}
			ent.Size = ClusterSize
			ent.RefCount += 2
			dir.RefCount++
		default:
			ent.RefCount++
		}
	case OpAttach:
		if !ent.Mode.IsDir() {
			return wrap(ErrInodeInUseBad)
		}
		if ent.Size < ClusterSize {
			return wrap(ErrDirBad)
		}
		var entries [DirEntriesPerCluster]DirEntry
		if err := readDirCluster(fs, nInodeEnt, 0, &entries); err != nil {
			return wrap(err)
		}
		entries[1].SetName("..")
		entries[1].Ino = nInodeDir
		if err := writeDirCluster(fs, nInodeEnt, 0, &entries); err != nil {
			return wrap(err)
		}
		if ent, err = ReadInode(fs, nInodeEnt, StatusInUse); err != nil {
			return wrap(err)
		}
		// Detachment removed only the old parent's entry link; the
		// subsidiary's own `.` link never went away, so restore exactly one.
		ent.RefCount++
		dir.RefCount++
	}

	clusterIdx := idx / DirEntriesPerCluster
	within := idx % DirEntriesPerCluster
	appended := idx == uint32(dir.Size/DirEntrySize)

	var entries [DirEntriesPerCluster]DirEntry
	if appended {
		for i := range entries {
			entries[i].Clear()
		}
		dir.Size += ClusterSize
	} else {
		if err := readDirCluster(fs, nInodeDir, clusterIdx, &entries); err != nil {
			return wrap(err)
		}
	}
	entries[within].SetName(name)
	entries[within].Ino = nInodeEnt

	if err := WriteInode(fs, &ent, nInodeEnt, StatusInUse); err != nil {
		return wrap(err)
	}
	if err := WriteInode(fs, &dir, nInodeDir, StatusInUse); err != nil {
		return wrap(err)
	}
	if err := writeDirCluster(fs, nInodeDir, clusterIdx, &entries); err != nil {
		return wrap(err)
	}
	return nil
}

// dirEmpty reports whether the directory holds no in-use entries besides `.`
// and `..`.
func dirEmpty(fs *FileSystem, nInode InodeNo, ino *Inode) (bool, error) {
	clusters := uint32(ino.Size / ClusterSize)
	for c := uint32(0); c < clusters; c++ {
		var entries [DirEntriesPerCluster]DirEntry
		if err := readDirCluster(fs, nInode, c, &entries); err != nil {
			return false, err
		}
		for i := range entries {
			if c == 0 && i < 2 {
				continue
			}
			if entries[i].InUse() {
				return false, nil
			}
		}
	}
	return true, nil
}

// RemDetachDirEntry removes (OpRem) or detaches (OpDetach) the entry named
// name from the directory associated with inode nInodeDir. Removal leaves the
// slot in the recoverable dirty-empty state and deletes the underlying file
// when its last link is gone; detachment erases the slot completely. The
// calling process needs writing and execution permissions on the directory.
func RemDetachDirEntry(
	fs *FileSystem,
	nInodeDir InodeNo,
	name string,
	op DetachMode,
) error {
	wrap := func(err error) error {
		return fmt.Errorf(
			"removing entry `%s` from directory inode `%d`: %w",
			name,
			nInodeDir,
			err,
		)
	}
	if op != OpRem && op != OpDetach {
		return wrap(fmt.Errorf("bad op `%d`: %w", op, ErrInvalid))
	}
	if name == "." || name == ".." {
		return wrap(ErrInvalid)
	}
	if err := validEntryName(name); err != nil {
		return wrap(err)
	}
	dir, err := ReadInode(fs, nInodeDir, StatusInUse)
	if err != nil {
		return wrap(err)
	}
	if !dir.Mode.IsDir() {
		return wrap(ErrNotDir)
	}
	if err := AccessGranted(fs, nInodeDir, PermExec); err != nil {
		return wrap(err)
	}
	if err := AccessGranted(fs, nInodeDir, PermWrite); err != nil {
		return wrap(ErrWriteDenied)
	}

	nInodeEnt, idx, err := GetDirEntryByName(fs, nInodeDir, name)
	if err != nil {
		return wrap(err)
	}
	ent, err := ReadInode(fs, nInodeEnt, StatusInUse)
	if err != nil {
		return wrap(err)
	}
	if ent.Mode.IsDir() && op == OpRem {
		empty, err := dirEmpty(fs, nInodeEnt, &ent)
		if err != nil {
			return wrap(err)
		}
		if !empty {
			return wrap(ErrNotEmpty)
		}
	}

	clusterIdx := idx / DirEntriesPerCluster
	within := idx % DirEntriesPerCluster
	var entries [DirEntriesPerCluster]DirEntry
	if err := readDirCluster(fs, nInodeDir, clusterIdx, &entries); err != nil {
		return wrap(err)
	}
	switch op {
	case OpRem:
		entries[within].MarkRemoved()
	case OpDetach:
		entries[within].Clear()
		if ent.Mode.IsDir() {
			var sub [DirEntriesPerCluster]DirEntry
			if err := readDirCluster(fs, nInodeEnt, 0, &sub); err != nil {
				return wrap(err)
			}
			sub[1].Clear()
			if err := writeDirCluster(fs, nInodeEnt, 0, &sub); err != nil {
				return wrap(err)
			}
		}
	}

	ent.RefCount--
	if ent.Mode.IsDir() {
		dir.RefCount--
	}
	if ent.Mode.IsDir() && op == OpRem {
		ent.RefCount--
	}
	if err := WriteInode(fs, &ent, nInodeEnt, StatusInUse); err != nil {
		return wrap(err)
	}
	if err := WriteInode(fs, &dir, nInodeDir, StatusInUse); err != nil {
		return wrap(err)
	}

	if op == OpRem &&
		(ent.RefCount == 0 || (ent.RefCount == 1 && ent.Mode.IsDir())) {
		if err := HandleFileClusters(fs, nInodeEnt, 0, OpFreeClean); err != nil {
			return wrap(err)
		}
		if ent.RefCount != 0 {
			// The remaining count is the directory's own `.` entry; it dies
			// with the directory.
			if ent, err = ReadInode(fs, nInodeEnt, StatusInUse); err != nil {
				return wrap(err)
			}
			ent.RefCount = 0
			if err := WriteInode(fs, &ent, nInodeEnt, StatusInUse); err != nil {
				return wrap(err)
			}
		}
		if err := FreeInode(fs, nInodeEnt); err != nil {
			return wrap(err)
		}
	}

	if err := writeDirCluster(fs, nInodeDir, clusterIdx, &entries); err != nil {
		return wrap(err)
	}
	return nil
}

// RenameDirEntry changes the name of the entry oldName of the directory
// associated with inode nInodeDir to newName, which must not exist yet. The
// calling process needs writing and execution permissions on the directory.
func RenameDirEntry(
	fs *FileSystem,
	nInodeDir InodeNo,
	oldName string,
	newName string,
) error {
	wrap := func(err error) error {
		return fmt.Errorf(
			"renaming entry `%s` to `%s` in directory inode `%d`: %w",
			oldName,
			newName,
			nInodeDir,
			err,
		)
	}
	if oldName == "." || oldName == ".." {
		return wrap(ErrInvalid)
	}
	if err := validEntryName(oldName); err != nil {
		return wrap(err)
	}
	if err := validEntryName(newName); err != nil {
		return wrap(err)
	}
	dir, err := ReadInode(fs, nInodeDir, StatusInUse)
	if err != nil {
		return wrap(err)
	}
	if !dir.Mode.IsDir() {
		return wrap(ErrNotDir)
	}
	if err := AccessGranted(fs, nInodeDir, PermExec); err != nil {
		return wrap(err)
	}
	if err := AccessGranted(fs, nInodeDir, PermWrite); err != nil {
		return wrap(ErrWriteDenied)
	}

	_, idx, err := GetDirEntryByName(fs, nInodeDir, oldName)
	if err != nil {
		return wrap(err)
	}
	if _, _, err := GetDirEntryByName(fs, nInodeDir, newName); err == nil {
		return wrap(ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return wrap(err)
	}

	clusterIdx := idx / DirEntriesPerCluster
	within := idx % DirEntriesPerCluster
	var entries [DirEntriesPerCluster]DirEntry
	if err := readDirCluster(fs, nInodeDir, clusterIdx, &entries); err != nil {
		return wrap(err)
	}
	entries[within].SetName(newName)
	if err := writeDirCluster(fs, nInodeDir, clusterIdx, &entries); err != nil {
		return wrap(err)
	}
	return nil
}
