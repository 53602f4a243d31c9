package fs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/weberc2/sofs13/pkg/types"
)

func TestAllocInodeExhaustion(t *testing.T) {
	fsys := newTestFS(t, 64, 8)
	sb, err := Statvfs(fsys)
	require.NoError(t, err)
	require.Equal(t, uint32(7), sb.IFree)

	var allocated []InodeNo
	for i := 0; i < 7; i++ {
		nInode, err := AllocInode(fsys, ModeFile)
		require.NoError(t, err)
		allocated = append(allocated, nInode)
	}
	// The free list was chained in ascending order at format time.
	assert.Equal(t, []InodeNo{1, 2, 3, 4, 5, 6, 7}, allocated)

	_, err = AllocInode(fsys, ModeFile)
	require.ErrorIs(t, err, ErrNoSpace)
	require.NoError(t, CheckConsistency(fsys))
}

func TestAllocInodeRejectsBadType(t *testing.T) {
	fsys := newTestFS(t, 64, 8)
	_, err := AllocInode(fsys, ModeFree)
	require.ErrorIs(t, err, ErrInvalid)
	_, err = AllocInode(fsys, ModeDir|ModeFile)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestFreeInodeListDiscipline(t *testing.T) {
	fsys := newTestFS(t, 64, 16)

	first, err := AllocInode(fsys, ModeFile)
	require.NoError(t, err)
	second, err := AllocInode(fsys, ModeFile)
	require.NoError(t, err)

	// Freed inodes join at the tail, so they come back out last.
	require.NoError(t, FreeInode(fsys, first))
	require.NoError(t, FreeInode(fsys, second))
	require.NoError(t, CheckConsistency(fsys))

	sb, err := Statvfs(fsys)
	require.NoError(t, err)
	assert.Equal(t, second, sb.ITail)

	freed, err := ReadInode(fsys, first, StatusFreeDirty)
	require.NoError(t, err)
	assert.True(t, freed.Mode.IsFree())
	assert.Equal(t, second, freed.Links.Next)
}

func TestFreeInodeRejectsRoot(t *testing.T) {
	fsys := newTestFS(t, 64, 8)
	require.ErrorIs(t, FreeInode(fsys, InodeRoot), ErrInvalid)
}

func TestFreeInodeRejectsLinkedInode(t *testing.T) {
	fsys := newTestFS(t, 100, 24)
	nInode, err := Create(fsys, "/f", 0o644)
	require.NoError(t, err)
	err = FreeInode(fsys, nInode)
	require.ErrorIs(t, err, ErrInodeInUseBad)
}

func TestDataClusterRoundTrip(t *testing.T) {
	// 20 blocks, 8 inodes: 4 data clusters, 3 of them free after format.
	path := newBackingFile(t, 20)
	require.NoError(t, Format(path, &FormatOptions{Inodes: 8}))
	fsys, err := Open(path)
	require.NoError(t, err)

	var allocated []ClusterNo
	for {
		nClust, err := AllocDataCluster(fsys)
		if err != nil {
			require.ErrorIs(t, err, ErrNoSpace)
			break
		}
		allocated = append(allocated, nClust)
	}
	require.Len(t, allocated, 3)

	for i := len(allocated) - 1; i >= 0; i-- {
		require.NoError(t, FreeDataCluster(fsys, allocated[i]))
	}
	// Closing drains the insertion cache back into the bitmap.
	require.NoError(t, fsys.Close())

	fsys, err = Open(path)
	require.NoError(t, err)
	defer fsys.Close()
	sb, err := Statvfs(fsys)
	require.NoError(t, err)
	assert.Equal(t, sb.DZoneTotal-1, sb.DZoneFree)
	assert.Equal(t, uint32(DZoneCacheSize), sb.Retrieve.Idx)
	assert.Equal(t, uint32(0), sb.Insert.Idx)

	for ref := ClusterNo(0); uint32(ref) < sb.DZoneTotal; ref++ {
		nBlk, byteOff, bitOff, err := BitmapPos(&sb, ref)
		require.NoError(t, err)
		require.NoError(t, fsys.Meta.LoadBitmapBlock(nBlk))
		bitmap, err := fsys.Meta.BitmapBlock()
		require.NoError(t, err)
		bit := bitmap[byteOff]&(0x80>>bitOff) != 0
		if ref == 0 {
			assert.False(t, bit, "cluster 0 must stay allocated")
		} else {
			assert.True(t, bit, "cluster %d must be free", ref)
		}

		mBlk, slot, err := MapTablePos(&sb, ref)
		require.NoError(t, err)
		require.NoError(t, fsys.Meta.LoadMapBlock(mBlk))
		ciMap, err := fsys.Meta.MapBlock()
		require.NoError(t, err)
		if ref == 0 {
			assert.Equal(t, InodeRoot, ciMap[slot])
		} else {
			assert.Equal(t, NullInode, ciMap[slot])
		}
	}
	require.NoError(t, CheckConsistency(fsys))
}

func TestFreeDataClusterValidation(t *testing.T) {
	fsys := newTestFS(t, 20, 8)

	// Cluster 0 holds the root directory.
	require.ErrorIs(t, FreeDataCluster(fsys, 0), ErrInvalid)
	// Out of range.
	require.ErrorIs(t, FreeDataCluster(fsys, 10000), ErrInvalid)
	// In range but never allocated.
	err := FreeDataCluster(fsys, 2)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrClusterNotAlloc))
}

func TestDirtyClusterReuseCleansFormerOwner(t *testing.T) {
	fsys := newTestFS(t, 200, 16)
	nInode, err := AllocInode(fsys, ModeFile)
	require.NoError(t, err)

	var buf [ClusterSize]byte
	buf[0] = 0xAB
	require.NoError(t, WriteFileCluster(fsys, nInode, 0, &buf))

	ino, err := ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	nClust := ino.Direct[0]
	require.NotEqual(t, NullCluster, nClust)

	// Free the cluster without cleaning: the reference stays in the chain
	// and the map still names the former owner.
	_, err = HandleFileCluster(fsys, nInode, 0, OpFree)
	require.NoError(t, err)

	// Exhaust the allocator until the dirty cluster comes around again; its
	// reuse must scrub it out of the former owner's chain.
	seen := false
	for {
		got, err := AllocDataCluster(fsys)
		if err != nil {
			require.ErrorIs(t, err, ErrNoSpace)
			break
		}
		if got == nClust {
			seen = true
		}
	}
	require.True(t, seen, "freed cluster must be reusable")

	ino, err = ReadInode(fsys, nInode, StatusInUse)
	require.NoError(t, err)
	assert.Equal(t, NullCluster, ino.Direct[0])
	assert.Equal(t, uint32(0), ino.CluCount)
}
