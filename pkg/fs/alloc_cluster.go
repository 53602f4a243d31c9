package fs

import (
	"fmt"

	. "github.com/weberc2/sofs13/pkg/types"
)

// AllocDataCluster retrieves a free data cluster. The reference comes from
// the retrieval cache, which is replenished from the bitmap when empty. A
// cluster still mapped to its former owner is dirty and gets cleaned before
// being handed out.
func AllocDataCluster(fs *FileSystem) (ClusterNo, error) {
	sb, err := fs.superblock()
	if err != nil {
		return NullCluster, fmt.Errorf("allocating data cluster: %w", err)
	}
	if sb.DZoneFree == 0 {
		return NullCluster, fmt.Errorf(
			"allocating data cluster: %w",
			ErrNoSpace,
		)
	}
	if err := QCheckDataZone(sb); err != nil {
		return NullCluster, fmt.Errorf("allocating data cluster: %w", err)
	}
	if sb.Retrieve.Idx == DZoneCacheSize {
		if err := replenish(fs, sb); err != nil {
			return NullCluster, fmt.Errorf("allocating data cluster: %w", err)
		}
	}
	nClust := sb.Retrieve.Refs[sb.Retrieve.Idx]

	nBlk, slot, err := MapTablePos(sb, nClust)
	if err != nil {
		return NullCluster, fmt.Errorf("allocating data cluster: %w", err)
	}
	if err := fs.Meta.LoadMapBlock(nBlk); err != nil {
		return NullCluster, fmt.Errorf("allocating data cluster: %w", err)
	}
	ciMap, err := fs.Meta.MapBlock()
	if err != nil {
		return NullCluster, fmt.Errorf("allocating data cluster: %w", err)
	}
	if owner := ciMap[slot]; owner != NullInode {
		// Dirty: still referenced by its former owner.
		if err := cleanDataCluster(fs, owner, nClust); err != nil {
			return NullCluster, fmt.Errorf("allocating data cluster: %w", err)
		}
	}

	sb.Retrieve.Refs[sb.Retrieve.Idx] = NullCluster
	sb.Retrieve.Idx++
	sb.DZoneFree--
	if err := fs.Meta.StoreSuperblock(); err != nil {
		return NullCluster, fmt.Errorf("allocating data cluster: %w", err)
	}
	return nClust, nil
}

// FreeDataCluster inserts the referenced data cluster into the insertion
// cache, depleting it into the bitmap first when full. The cluster must be
// currently allocated; its map entry is retained (dirty state) until a later
// clean. Cluster 0, holding the root directory, can never be freed.
func FreeDataCluster(fs *FileSystem, nClust ClusterNo) error {
	sb, err := fs.superblock()
	if err != nil {
		return fmt.Errorf("freeing data cluster `%d`: %w", nClust, err)
	}
	if err := QCheckDataZone(sb); err != nil {
		return fmt.Errorf("freeing data cluster `%d`: %w", nClust, err)
	}
	if nClust == 0 || uint32(nClust) >= sb.DZoneTotal {
		return fmt.Errorf("freeing data cluster `%d`: %w", nClust, ErrInvalid)
	}
	allocated, err := QCheckClusterStat(fs, nClust)
	if err != nil {
		return fmt.Errorf("freeing data cluster `%d`: %w", nClust, err)
	}
	if !allocated {
		return fmt.Errorf(
			"freeing data cluster `%d`: %w",
			nClust,
			ErrClusterNotAlloc,
		)
	}
	if sb.Insert.Idx == DZoneCacheSize {
		if err := deplete(fs, sb); err != nil {
			return fmt.Errorf("freeing data cluster `%d`: %w", nClust, err)
		}
	}
	sb.Insert.Refs[sb.Insert.Idx] = nClust
	sb.Insert.Idx++
	sb.DZoneFree++
	if err := fs.Meta.StoreSuperblock(); err != nil {
		return fmt.Errorf("freeing data cluster `%d`: %w", nClust, err)
	}
	return nil
}

// replenish refills the retrieval cache by scanning the bitmap circularly
// from the search position, claiming each free bit. When the bitmap runs out
// before the cache holds every free cluster it can, the insertion cache is
// depleted into the bitmap and the scan resumes. The caller observes one
// atomic step; the intermediate bitmap state is not visible.
func replenish(fs *FileSystem, sb *Superblock) error {
	want := sb.DZoneFree
	if want > DZoneCacheSize {
		want = DZoneCacheSize
	}
	n := uint32(DZoneCacheSize - want)
	pos := sb.FCTPos

	scan := func() error {
		// One full revolution at most.
		for steps := uint32(0); steps < sb.DZoneTotal && n < DZoneCacheSize; steps++ {
			nBlk, byteOff, bitOff, err := BitmapPos(sb, ClusterNo(pos))
			if err != nil {
				return err
			}
			if err := fs.Meta.LoadBitmapBlock(nBlk); err != nil {
				return err
			}
			bitmap, err := fs.Meta.BitmapBlock()
			if err != nil {
				return err
			}
			mask := byte(0x80 >> bitOff)
			if bitmap[byteOff]&mask != 0 {
				sb.Retrieve.Refs[n] = ClusterNo(pos)
				bitmap[byteOff] &^= mask
				n++
				if err := fs.Meta.StoreBitmapBlock(); err != nil {
					return err
				}
			}
			pos = (pos + 1) % sb.DZoneTotal
		}
		return nil
	}

	if err := scan(); err != nil {
		return fmt.Errorf("replenishing retrieval cache: %w", err)
	}
	if n < DZoneCacheSize {
		// The bitmap ran dry but freed references are still parked in the
		// insertion cache; return them to the bitmap and take another pass.
		if err := deplete(fs, sb); err != nil {
			return fmt.Errorf("replenishing retrieval cache: %w", err)
		}
		if err := scan(); err != nil {
			return fmt.Errorf("replenishing retrieval cache: %w", err)
		}
	}
	if n != DZoneCacheSize {
		// The bitmap and the caches together supplied fewer references than
		// the free count promised.
		return fmt.Errorf("replenishing retrieval cache: %w", ErrFreeCountBad)
	}
	sb.Retrieve.Idx = DZoneCacheSize - want
	sb.FCTPos = pos
	return nil
}

// deplete drains the insertion cache, raising the bitmap bit of every parked
// reference.
func deplete(fs *FileSystem, sb *Superblock) error {
	for i := uint32(0); i < sb.Insert.Idx; i++ {
		ref := sb.Insert.Refs[i]
		nBlk, byteOff, bitOff, err := BitmapPos(sb, ref)
		if err != nil {
			return fmt.Errorf("depleting insertion cache: %w", err)
		}
		if err := fs.Meta.LoadBitmapBlock(nBlk); err != nil {
			return fmt.Errorf("depleting insertion cache: %w", err)
		}
		bitmap, err := fs.Meta.BitmapBlock()
		if err != nil {
			return fmt.Errorf("depleting insertion cache: %w", err)
		}
		bitmap[byteOff] |= 0x80 >> bitOff
		sb.Insert.Refs[i] = NullCluster
		if err := fs.Meta.StoreBitmapBlock(); err != nil {
			return fmt.Errorf("depleting insertion cache: %w", err)
		}
	}
	sb.Insert.Idx = 0
	if err := fs.Meta.StoreSuperblock(); err != nil {
		return fmt.Errorf("depleting insertion cache: %w", err)
	}
	return nil
}
