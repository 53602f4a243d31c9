package fs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/weberc2/sofs13/pkg/types"
)

func listingNames(listings []DirListing) []string {
	names := make([]string, len(listings))
	for i, listing := range listings {
		names[i] = listing.Name
	}
	return names
}

func TestDirectoryHierarchy(t *testing.T) {
	fsys := newTestFS(t, 100, 72)

	nDirA, err := MkDir(fsys, "/a", 0o755)
	require.NoError(t, err)
	nFileB, err := Create(fsys, "/a/b", 0o644)
	require.NoError(t, err)
	_, err = MkSymlink(fsys, "/a/c", "b")
	require.NoError(t, err)

	// Give b a data cluster so removal has something to release.
	var buf [ClusterSize]byte
	buf[0] = 0x42
	require.NoError(t, WriteFileCluster(fsys, nFileB, 0, &buf))

	listings, err := ReadDir(fsys, nDirA)
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "b", "c"}, listingNames(listings))

	dirA, err := ReadInode(fsys, nDirA, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), dirA.RefCount)
	root, err := ReadInode(fsys, InodeRoot, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), root.RefCount)

	// The symlink resolves through to b.
	_, ent, err := GetDirEntryByPath(fsys, "/a/c")
	require.NoError(t, err)
	assert.Equal(t, nFileB, ent)

	require.NoError(t, Unlink(fsys, "/a/b"))
	_, _, err = GetDirEntryByPath(fsys, "/a/b")
	require.ErrorIs(t, err, ErrNotFound)

	// b's inode went free-dirty with its data already released.
	freed, err := ReadInode(fsys, nFileB, StatusFreeDirty)
	require.NoError(t, err)
	assert.True(t, freed.Mode.IsFree())
	assert.Equal(t, uint32(0), freed.CluCount)

	require.NoError(t, CheckConsistency(fsys))
}

func TestRemovedEntryIsRecoverable(t *testing.T) {
	fsys := newTestFS(t, 100, 72)
	nInode, err := Create(fsys, "/f", 0o644)
	require.NoError(t, err)
	require.NoError(t, Unlink(fsys, "/f"))

	// The slot is dirty-empty: the name's first byte moved to the tail and
	// the inode reference survives for recovery.
	var entries [DirEntriesPerCluster]DirEntry
	require.NoError(t, readDirCluster(fsys, InodeRoot, 0, &entries))
	slot := &entries[2]
	assert.Equal(t, byte(0), slot.Name[0])
	assert.Equal(t, byte('f'), slot.Name[MaxName])
	assert.Equal(t, nInode, slot.Ino)
	assert.False(t, slot.CleanEmpty())
}

func TestDetachedEntryIsClean(t *testing.T) {
	fsys := newTestFS(t, 100, 72)
	_, err := Create(fsys, "/f", 0o644)
	require.NoError(t, err)
	require.NoError(t, RemDetachDirEntry(fsys, InodeRoot, "f", OpDetach))

	var entries [DirEntriesPerCluster]DirEntry
	require.NoError(t, readDirCluster(fsys, InodeRoot, 0, &entries))
	assert.True(t, entries[2].CleanEmpty())
}

func TestAddDirEntryReusesCleanSlot(t *testing.T) {
	fsys := newTestFS(t, 100, 72)
	_, err := Create(fsys, "/f", 0o644)
	require.NoError(t, err)
	_, err = Create(fsys, "/g", 0o644)
	require.NoError(t, err)
	require.NoError(t, RemDetachDirEntry(fsys, InodeRoot, "f", OpDetach))

	nInode, err := Create(fsys, "/h", 0o644)
	require.NoError(t, err)
	got, idx, err := GetDirEntryByName(fsys, InodeRoot, "h")
	require.NoError(t, err)
	assert.Equal(t, nInode, got)
	assert.Equal(t, uint32(2), idx, "the detached slot must be reused")
}

func TestRemoveNonEmptyDirectory(t *testing.T) {
	fsys := newTestFS(t, 100, 72)
	_, err := MkDir(fsys, "/a", 0o755)
	require.NoError(t, err)
	_, err = Create(fsys, "/a/b", 0o644)
	require.NoError(t, err)

	require.ErrorIs(t, RmDir(fsys, "/a"), ErrNotEmpty)
	require.NoError(t, Unlink(fsys, "/a/b"))
	require.NoError(t, RmDir(fsys, "/a"))
	require.NoError(t, CheckConsistency(fsys))
}

func TestRenameAndCollision(t *testing.T) {
	fsys := newTestFS(t, 100, 72)
	_, err := MkDir(fsys, "/a", 0o755)
	require.NoError(t, err)
	_, err = Create(fsys, "/a/b", 0o644)
	require.NoError(t, err)
	_, err = MkSymlink(fsys, "/a/c", "b")
	require.NoError(t, err)

	require.NoError(t, Rename(fsys, "/a/c", "/a/d"))
	_, _, err = GetDirEntryByPath(fsys, "/a/d")
	require.NoError(t, err)

	err = Rename(fsys, "/a/d", "/a/d")
	require.ErrorIs(t, err, ErrExists)

	err = Rename(fsys, "/a/..", "/a/x")
	require.ErrorIs(t, err, ErrInvalid)
	require.NoError(t, CheckConsistency(fsys))
}

func TestRenameAcrossDirectories(t *testing.T) {
	fsys := newTestFS(t, 100, 72)
	_, err := MkDir(fsys, "/a", 0o755)
	require.NoError(t, err)
	_, err = MkDir(fsys, "/b", 0o755)
	require.NoError(t, err)
	nFile, err := Create(fsys, "/a/f", 0o644)
	require.NoError(t, err)

	require.NoError(t, Rename(fsys, "/a/f", "/b/g"))
	_, ent, err := GetDirEntryByPath(fsys, "/b/g")
	require.NoError(t, err)
	assert.Equal(t, nFile, ent)
	_, _, err = GetDirEntryByPath(fsys, "/a/f")
	require.ErrorIs(t, err, ErrNotFound)

	ino, err := ReadInode(fsys, nFile, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), ino.RefCount)
}

func TestRenameDirectoryAcrossDirectories(t *testing.T) {
	fsys := newTestFS(t, 200, 72)
	_, err := MkDir(fsys, "/a", 0o755)
	require.NoError(t, err)
	_, err = MkDir(fsys, "/b", 0o755)
	require.NoError(t, err)
	nSub, err := MkDir(fsys, "/a/sub", 0o755)
	require.NoError(t, err)
	_, err = Create(fsys, "/a/sub/f", 0o644)
	require.NoError(t, err)

	before, err := ReadInode(fsys, nSub, StatusInUse)
	require.NoError(t, err)

	require.NoError(t, Rename(fsys, "/a/sub", "/b/sub"))

	_, ent, err := GetDirEntryByPath(fsys, "/b/sub")
	require.NoError(t, err)
	assert.Equal(t, nSub, ent)
	_, _, err = GetDirEntryByPath(fsys, "/a/sub")
	require.ErrorIs(t, err, ErrNotFound)

	// The move re-parented `..` and swapped one parent entry for another; the
	// subdirectory's link count must come out exactly where it started.
	after, err := ReadInode(fsys, nSub, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, before.RefCount, after.RefCount)

	listings, err := ReadDir(fsys, nSub)
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "f"}, listingNames(listings))

	// `..` now points at the new parent.
	newParent, _, err := GetDirEntryByName(fsys, nSub, "..")
	require.NoError(t, err)
	_, nDirB, err := GetDirEntryByPath(fsys, "/b")
	require.NoError(t, err)
	assert.Equal(t, nDirB, newParent)

	require.NoError(t, CheckConsistency(fsys))
}

func TestHardLinks(t *testing.T) {
	fsys := newTestFS(t, 100, 72)
	nFile, err := Create(fsys, "/f", 0o644)
	require.NoError(t, err)
	require.NoError(t, Link(fsys, "/f", "/g"))

	ino, err := ReadInode(fsys, nFile, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), ino.RefCount)

	// Dropping one link keeps the file alive.
	require.NoError(t, Unlink(fsys, "/f"))
	ino, err = ReadInode(fsys, nFile, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), ino.RefCount)

	require.NoError(t, Unlink(fsys, "/g"))
	_, err = ReadInode(fsys, nFile, StatusFreeDirty)
	require.NoError(t, err)
	require.NoError(t, CheckConsistency(fsys))
}

func TestSymlinkChainIsALoop(t *testing.T) {
	fsys := newTestFS(t, 100, 72)
	_, err := Create(fsys, "/target", 0o644)
	require.NoError(t, err)
	_, err = MkSymlink(fsys, "/l2", "target")
	require.NoError(t, err)
	_, err = MkSymlink(fsys, "/l1", "l2")
	require.NoError(t, err)

	// Resolving through one symlink is fine; a second one exceeds the
	// resolution budget.
	_, _, err = GetDirEntryByPath(fsys, "/l2")
	require.NoError(t, err)
	_, _, err = GetDirEntryByPath(fsys, "/l1")
	require.ErrorIs(t, err, ErrLoop)
}

func TestRelativePathRejected(t *testing.T) {
	fsys := newTestFS(t, 100, 72)
	_, _, err := GetDirEntryByPath(fsys, "a/b")
	require.ErrorIs(t, err, ErrRelPath)
}

func TestNameLengthLimits(t *testing.T) {
	fsys := newTestFS(t, 100, 72)

	long := make([]byte, MaxName+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := Create(fsys, "/"+string(long), 0o644)
	require.ErrorIs(t, err, ErrNameTooLong)

	ok := string(long[:MaxName])
	_, err = Create(fsys, "/"+ok, 0o644)
	require.NoError(t, err)
	_, _, err = GetDirEntryByPath(fsys, "/"+ok)
	require.NoError(t, err)
}

func TestDirectoryGrowsPastOneCluster(t *testing.T) {
	fsys := newTestFS(t, 400, 128)

	// The first cluster holds `.`/`..` plus 30 entries; one more forces a
	// second directory cluster.
	for i := 0; i < DirEntriesPerCluster-1; i++ {
		_, err := Create(fsys, fmt.Sprintf("/f%02d", i), 0o644)
		require.NoError(t, err)
	}
	root, err := ReadInode(fsys, InodeRoot, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, Byte(2*ClusterSize), root.Size)
	assert.Equal(t, uint32(2), root.CluCount)

	listings, err := ReadDir(fsys, InodeRoot)
	require.NoError(t, err)
	assert.Len(t, listings, DirEntriesPerCluster+1)
	require.NoError(t, CheckConsistency(fsys))
}

func TestLookupInsertionPoint(t *testing.T) {
	fsys := newTestFS(t, 100, 72)
	_, idx, err := GetDirEntryByName(fsys, InodeRoot, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, uint32(2), idx, "append point after `.` and `..`")
}
