package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/weberc2/sofs13/pkg/types"
)

func TestFormatEmptyMount(t *testing.T) {
	// 100 blocks, 56 inodes: 7 inode table blocks, one map block, one bitmap
	// block, 22 data clusters.
	fsys := newTestFS(t, 100, 56)
	sb, err := Statvfs(fsys)
	require.NoError(t, err)

	assert.Equal(t, Magic, sb.Magic)
	assert.Equal(t, Version, sb.Version)
	assert.Equal(t, "SOFS13", sb.VolumeName())
	assert.Equal(t, uint32(56), sb.ITotal)
	assert.Equal(t, uint32(55), sb.IFree)
	assert.Equal(t, InodeNo(1), sb.IHead)
	assert.Equal(t, InodeNo(55), sb.ITail)
	assert.Equal(t, uint32(22), sb.DZoneTotal)
	assert.Equal(t, sb.DZoneTotal-1, sb.DZoneFree)
	assert.Equal(t, BlockNo(1), sb.ITableStart)
	assert.Equal(t, BlockNo(8), sb.CIMapStart)
	assert.Equal(t, BlockNo(9), sb.FCTStart)
	assert.Equal(t, BlockNo(10), sb.DZoneStart)

	root, err := ReadInode(fsys, InodeRoot, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, ModeDir|ModePermMask, root.Mode)
	assert.Equal(t, uint16(2), root.RefCount)
	assert.Equal(t, Byte(ClusterSize), root.Size)
	assert.Equal(t, uint32(1), root.CluCount)
	assert.Equal(t, ClusterNo(0), root.Direct[0])
	for _, ref := range root.Direct[1:] {
		assert.Equal(t, NullCluster, ref)
	}
	assert.Equal(t, NullCluster, root.Single)
	assert.Equal(t, NullCluster, root.Double)

	listings, err := ReadDir(fsys, InodeRoot)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, DirListing{Name: ".", Ino: InodeRoot}, listings[0])
	assert.Equal(t, DirListing{Name: "..", Ino: InodeRoot}, listings[1])

	require.NoError(t, CheckConsistency(fsys))
}

func TestFormatDefaultInodeCount(t *testing.T) {
	// 256 blocks: 32 inodes requested by default, rounded to 4 table blocks.
	fsys := newTestFS(t, 256, 0)
	sb, err := Statvfs(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), sb.ITotal)
	require.NoError(t, CheckConsistency(fsys))
}

func TestFormatTooSmall(t *testing.T) {
	path := newBackingFile(t, 4)
	err := Format(path, &FormatOptions{})
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestOpenRejectsUnformatted(t *testing.T) {
	path := newBackingFile(t, 100)
	_, err := Open(path)
	require.ErrorIs(t, err, ErrSuperblockBad)
}

func TestFormatZeroFillsDataZone(t *testing.T) {
	path := newBackingFile(t, 64)
	require.NoError(t, Format(path, &FormatOptions{Zero: true}))
	fsys, err := Open(path)
	require.NoError(t, err)
	defer fsys.Close()
	require.NoError(t, CheckConsistency(fsys))
}

func TestMountStatusLifecycle(t *testing.T) {
	path := newBackingFile(t, 100)
	require.NoError(t, Format(path, &FormatOptions{}))

	fsys, err := Open(path)
	require.NoError(t, err)
	sb, err := Statvfs(fsys)
	require.NoError(t, err)
	assert.Equal(t, MountedDirty, sb.MStat)
	require.NoError(t, fsys.Close())

	fsys, err = Open(path)
	require.NoError(t, err)
	defer fsys.Close()
	// Close marked the volume properly unmounted; Open dirtied it again, so
	// check the on-disk transition through a fresh read of the superblock.
	sb, err = Statvfs(fsys)
	require.NoError(t, err)
	assert.Equal(t, MountedDirty, sb.MStat)
}
