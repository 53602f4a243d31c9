package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModePredicates(t *testing.T) {
	assert.True(t, (ModeDir | 0o755).IsDir())
	assert.True(t, (ModeFile | 0o644).IsRegular())
	assert.True(t, (ModeSymlink | ModePermMask).IsSymlink())
	assert.True(t, (ModeFree | ModeFile).IsFree())

	assert.True(t, (ModeDir | 0o755).HasLegalType())
	assert.False(t, Mode(0o755).HasLegalType())
	assert.False(t, (ModeDir | ModeFile).HasLegalType())
}

func TestErrnoMapping(t *testing.T) {
	assert.Equal(t, 0, Errno(nil))
	assert.Equal(t, -2, Errno(ErrNotFound))
	assert.Equal(t, -28, Errno(ErrNoSpace))
	assert.Equal(t, -40, Errno(ErrLoop))
	assert.Equal(t, -80, Errno(ErrClusterInList))

	// Wrapped chains resolve to their sentinel.
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrAccess))
	assert.Equal(t, -13, Errno(wrapped))

	// Unrecognized errors surface as I/O failures.
	assert.Equal(t, -5, Errno(fmt.Errorf("mystery")))
}

func TestDirEntryStates(t *testing.T) {
	var entry DirEntry
	entry.Clear()
	assert.True(t, entry.CleanEmpty())
	assert.False(t, entry.InUse())

	entry.SetName("b")
	entry.Ino = 12
	assert.True(t, entry.InUse())
	assert.False(t, entry.CleanEmpty())

	entry.MarkRemoved()
	assert.False(t, entry.InUse())
	// Not clean either: the swapped-out first byte keeps it recoverable.
	assert.False(t, entry.CleanEmpty())
	assert.Equal(t, byte('b'), entry.Name[MaxName])
	assert.Equal(t, InodeNo(12), entry.Ino)
}

func TestVolumeNameCap(t *testing.T) {
	var sb Superblock
	sb.SetVolumeName("a-very-long-volume-name-beyond-the-cap")
	assert.Len(t, sb.VolumeName(), MaxVolumeName)
	sb.SetVolumeName("data")
	assert.Equal(t, "data", sb.VolumeName())
}
