package fs

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/weberc2/sofs13/pkg/types"
)

func TestReadWriteInodeData(t *testing.T) {
	fsys := newTestFS(t, 400, 24)
	nInode, err := Create(fsys, "/f", 0o644)
	require.NoError(t, err)

	// A write spanning several clusters at an unaligned offset.
	payload := bytes.Repeat([]byte("sofs13 data "), 400)
	written, err := WriteInodeData(fsys, nInode, ClusterSize-100, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), written)

	ino, err := ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, Byte(ClusterSize-100+len(payload)), ino.Size)

	got := make([]byte, len(payload))
	read, err := ReadInodeData(fsys, nInode, ClusterSize-100, got)
	require.NoError(t, err)
	require.Equal(t, len(payload), read)
	assert.Equal(t, payload, got)

	// The unwritten prefix reads back as zeros.
	head := make([]byte, 100)
	read, err = ReadInodeData(fsys, nInode, 0, head)
	require.NoError(t, err)
	require.Equal(t, 100, read)
	assert.Equal(t, make([]byte, 100), head)

	// Reads past the end hit EOF; reads across the end are clamped.
	_, err = ReadInodeData(fsys, nInode, ino.Size, make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
	read, err = ReadInodeData(fsys, nInode, ino.Size-10, make([]byte, 100))
	require.NoError(t, err)
	assert.Equal(t, 10, read)

	require.NoError(t, CheckConsistency(fsys))
}

func TestWriteAtMaxFileSizeBoundary(t *testing.T) {
	fsys := newTestFS(t, 1000, 24)
	nInode, err := Create(fsys, "/f", 0o644)
	require.NoError(t, err)

	// The very last byte of the largest representable file is writable.
	written, err := WriteInodeData(fsys, nInode, MaxFileSize-1, []byte{0xFF})
	require.NoError(t, err)
	require.Equal(t, 1, written)

	ino, err := ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, MaxFileSize, ino.Size)

	got := make([]byte, 1)
	_, err = ReadInodeData(fsys, nInode, MaxFileSize-1, got)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), got[0])

	// One byte further is out of range.
	_, err = WriteInodeData(fsys, nInode, MaxFileSize, []byte{0x00})
	require.ErrorIs(t, err, ErrInvalid)
	require.NoError(t, CheckConsistency(fsys))
}

func TestTruncateReleasesClusters(t *testing.T) {
	fsys := newTestFS(t, 400, 24)
	nInode, err := Create(fsys, "/f", 0o644)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x7}, 5*ClusterSize)
	_, err = WriteInodeData(fsys, nInode, 0, payload)
	require.NoError(t, err)

	require.NoError(t, TruncateInodeData(fsys, nInode, ClusterSize+1))
	ino, err := ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, Byte(ClusterSize+1), ino.Size)
	assert.Equal(t, uint32(2), ino.CluCount)

	// Growing back exposes zeros in the released clusters, not stale data.
	require.NoError(t, TruncateInodeData(fsys, nInode, 3*ClusterSize))
	got := make([]byte, ClusterSize)
	_, err = ReadInodeData(fsys, nInode, 2*ClusterSize, got)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, ClusterSize), got)

	require.NoError(t, CheckConsistency(fsys))
}

func TestSymlinkTargetRoundTrip(t *testing.T) {
	fsys := newTestFS(t, 100, 24)
	nInode, err := MkSymlink(fsys, "/l", "/some/where/else")
	require.NoError(t, err)

	target, err := ReadLink(fsys, nInode)
	require.NoError(t, err)
	assert.Equal(t, "/some/where/else", target)

	ino, err := ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, Byte(len("/some/where/else")), ino.Size)
}
