package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/weberc2/sofs13/pkg/types"
)

func TestIndirectGrowth(t *testing.T) {
	fsys := newTestFS(t, 1000, 40)
	nInode, err := AllocInode(fsys, ModeFile)
	require.NoError(t, err)

	// One direct cluster, one through the single indirect chain, one through
	// the double indirect chain.
	var buf [ClusterSize]byte
	for i, ind := range []uint32{0, NDirect, NDirect + RefsPerCluster} {
		buf[0] = byte(i + 1)
		require.NoError(t, WriteFileCluster(fsys, nInode, ind, &buf))
	}

	ino, err := ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	assert.NotEqual(t, NullCluster, ino.Direct[0])
	assert.NotEqual(t, NullCluster, ino.Single)
	assert.NotEqual(t, NullCluster, ino.Double)
	// 3 data clusters plus i1, i2 and one sub-single-indirect cluster.
	assert.Equal(t, uint32(6), ino.CluCount)

	sb, err := Statvfs(fsys)
	require.NoError(t, err)
	for _, ref := range []ClusterNo{ino.Direct[0], ino.Single, ino.Double} {
		mBlk, slot, err := MapTablePos(&sb, ref)
		require.NoError(t, err)
		require.NoError(t, fsys.Meta.LoadMapBlock(mBlk))
		ciMap, err := fsys.Meta.MapBlock()
		require.NoError(t, err)
		assert.Equal(t, nInode, ciMap[slot])
	}

	// The written clusters read back, the holes read as zeros.
	for i, ind := range []uint32{0, NDirect, NDirect + RefsPerCluster} {
		require.NoError(t, ReadFileCluster(fsys, nInode, ind, &buf))
		assert.Equal(t, byte(i+1), buf[0])
	}
	require.NoError(t, ReadFileCluster(fsys, nInode, 1, &buf))
	assert.Equal(t, [ClusterSize]byte{}, buf)

	require.NoError(t, CheckConsistency(fsys))
}

func TestHandleFileClusterGetAndAlloc(t *testing.T) {
	fsys := newTestFS(t, 200, 16)
	nInode, err := AllocInode(fsys, ModeFile)
	require.NoError(t, err)

	ref, err := HandleFileCluster(fsys, nInode, 3, OpGet)
	require.NoError(t, err)
	assert.Equal(t, NullCluster, ref)

	ref, err = HandleFileCluster(fsys, nInode, 3, OpAlloc)
	require.NoError(t, err)
	require.NotEqual(t, NullCluster, ref)

	// Allocating an occupied slot is a structural error.
	_, err = HandleFileCluster(fsys, nInode, 3, OpAlloc)
	require.ErrorIs(t, err, ErrClusterInList)

	// Freeing an empty slot likewise.
	_, err = HandleFileCluster(fsys, nInode, 4, OpFree)
	require.ErrorIs(t, err, ErrClusterNotInList)

	got, err := HandleFileCluster(fsys, nInode, 3, OpGet)
	require.NoError(t, err)
	assert.Equal(t, ref, got)
	require.NoError(t, CheckConsistency(fsys))
}

func TestFreeCleanCollapsesIndirection(t *testing.T) {
	fsys := newTestFS(t, 1000, 40)
	nInode, err := AllocInode(fsys, ModeFile)
	require.NoError(t, err)

	var buf [ClusterSize]byte
	require.NoError(t, WriteFileCluster(fsys, nInode, NDirect, &buf))
	require.NoError(t, WriteFileCluster(fsys, nInode, NDirect+1, &buf))

	ino, err := ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	require.NotEqual(t, NullCluster, ino.Single)
	require.Equal(t, uint32(3), ino.CluCount)

	_, err = HandleFileCluster(fsys, nInode, NDirect, OpFreeClean)
	require.NoError(t, err)
	ino, err = ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	assert.NotEqual(t, NullCluster, ino.Single)
	assert.Equal(t, uint32(2), ino.CluCount)

	// Removing the last populated slot collapses the indirect cluster too.
	_, err = HandleFileCluster(fsys, nInode, NDirect+1, OpFreeClean)
	require.NoError(t, err)
	ino, err = ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, NullCluster, ino.Single)
	assert.Equal(t, uint32(0), ino.CluCount)

	require.NoError(t, CheckConsistency(fsys))
}

func TestHandleFileClustersReleasesEverything(t *testing.T) {
	fsys := newTestFS(t, 1000, 40)
	nInode, err := AllocInode(fsys, ModeFile)
	require.NoError(t, err)

	var buf [ClusterSize]byte
	for _, ind := range []uint32{
		0,
		3,
		NDirect,
		NDirect + 100,
		NDirect + RefsPerCluster,
		NDirect + RefsPerCluster + RefsPerCluster + 5,
	} {
		require.NoError(t, WriteFileCluster(fsys, nInode, ind, &buf))
	}
	sb, err := Statvfs(fsys)
	require.NoError(t, err)
	freeBefore := sb.DZoneFree

	require.NoError(t, HandleFileClusters(fsys, nInode, 0, OpFreeClean))
	ino, err := ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), ino.CluCount)
	for _, ref := range ino.Direct {
		assert.Equal(t, NullCluster, ref)
	}
	assert.Equal(t, NullCluster, ino.Single)
	assert.Equal(t, NullCluster, ino.Double)

	sb, err = Statvfs(fsys)
	require.NoError(t, err)
	// 6 data clusters, i1, i2 and two sub-single-indirect clusters came back.
	assert.Equal(t, freeBefore+10, sb.DZoneFree)
	require.NoError(t, CheckConsistency(fsys))
}

func TestCleanInodeDissociatesClusters(t *testing.T) {
	fsys := newTestFS(t, 200, 16)
	nInode, err := AllocInode(fsys, ModeFile)
	require.NoError(t, err)

	var buf [ClusterSize]byte
	require.NoError(t, WriteFileCluster(fsys, nInode, 0, &buf))
	require.NoError(t, WriteFileCluster(fsys, nInode, 1, &buf))

	// Free the data clusters without dissociating, then free the inode: both
	// land in their dirty states.
	require.NoError(t, HandleFileClusters(fsys, nInode, 0, OpFree))
	require.NoError(t, FreeInode(fsys, nInode))

	dirty, err := ReadInode(fsys, nInode, StatusFreeDirty)
	require.NoError(t, err)
	require.Equal(t, uint32(2), dirty.CluCount)

	require.NoError(t, CleanInode(fsys, nInode))
	clean, err := ReadInode(fsys, nInode, StatusFreeDirty)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), clean.CluCount)
	for _, ref := range clean.Direct {
		assert.Equal(t, NullCluster, ref)
	}
	require.NoError(t, CheckConsistency(fsys))
}
