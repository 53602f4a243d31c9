package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/weberc2/sofs13/pkg/types"
)

// newBackingFile creates a zeroed backing file of the given number of blocks.
func newBackingFile(t *testing.T, blocks uint32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, file.Truncate(int64(blocks)*BlockSize))
	require.NoError(t, file.Close())
	return path
}

// newTestFS formats and opens a volume, closing it when the test ends.
func newTestFS(t *testing.T, blocks uint32, inodes uint32) *FileSystem {
	t.Helper()
	path := newBackingFile(t, blocks)
	require.NoError(t, Format(path, &FormatOptions{Inodes: inodes}))
	fsys, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { fsys.Close() })
	return fsys
}

func TestFilePosRoundTrip(t *testing.T) {
	for _, p := range []Byte{
		0,
		1,
		ClusterSize - 1,
		ClusterSize,
		ClusterSize*NDirect + 17,
		MaxFileSize - 1,
	} {
		clustInd, offset, err := FilePos(p)
		require.NoError(t, err)
		require.Equal(t, p, Byte(clustInd)*ClusterSize+offset)
	}
	_, _, err := FilePos(MaxFileSize)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestInodeTablePosRoundTrip(t *testing.T) {
	sb := Superblock{ITotal: 56, ITableSize: 7}
	for _, n := range []InodeNo{0, 1, 7, 8, 55} {
		blk, off, err := InodeTablePos(&sb, n)
		require.NoError(t, err)
		require.Equal(t, n, InodeNo(blk*InodesPerBlock+off))
	}
	_, _, err := InodeTablePos(&sb, 56)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestBitmapPosRoundTrip(t *testing.T) {
	sb := Superblock{DZoneTotal: 10000}
	for _, ref := range []ClusterNo{0, 1, 7, 8, 4095, 4096, 9999} {
		blk, byteOff, bitOff, err := BitmapPos(&sb, ref)
		require.NoError(t, err)
		back, err := BitmapRef(&sb, blk, byteOff, bitOff)
		require.NoError(t, err)
		require.Equal(t, ref, back)
	}
	_, _, _, err := BitmapPos(&sb, 10000)
	require.ErrorIs(t, err, ErrInvalid)
}
