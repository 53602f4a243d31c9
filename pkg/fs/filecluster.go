package fs

import (
	"fmt"

	. "github.com/weberc2/sofs13/pkg/types"
)

// ClusterOp selects what HandleFileCluster does to the addressed slot of a
// file's cluster reference list.
type ClusterOp int

const (
	// OpGet reads the reference without mutating anything.
	OpGet ClusterOp = iota
	// OpAlloc allocates a data cluster and links it into the chain, creating
	// intermediate reference clusters as needed.
	OpAlloc
	// OpFree frees the referenced data cluster but keeps the reference in the
	// chain (dirty state).
	OpFree
	// OpFreeClean frees the referenced data cluster, clears the reference and
	// dissociates the cluster, collapsing emptied intermediates.
	OpFreeClean
	// OpClean dissociates and clears without freeing the data cluster; used
	// while cleaning a free-dirty inode whose clusters were already freed.
	OpClean
)

// Logical cluster indices split into three regions: the direct references in
// the inode, the references reached through the single indirect cluster, and
// the references reached through the double indirect chain.
const (
	singleStart = NDirect
	doubleStart = NDirect + RefsPerCluster
)

// HandleFileCluster applies op to the slot clustInd of the cluster reference
// list of inode nInode and returns the referenced data cluster for OpGet and
// OpAlloc (NullCluster for an unallocated OpGet slot). The inode must be in
// use for OpGet, OpAlloc, OpFree and OpFreeClean, and free in the dirty state
// for OpClean.
func HandleFileCluster(
	fs *FileSystem,
	nInode InodeNo,
	clustInd uint32,
	op ClusterOp,
) (ClusterNo, error) {
	if clustInd >= uint32(MaxFileClusters) {
		return NullCluster, fmt.Errorf(
			"handling file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			ErrInvalid,
		)
	}
	status := StatusInUse
	if op == OpClean {
		status = StatusFreeDirty
	}
	switch op {
	case OpGet, OpAlloc, OpFree, OpFreeClean, OpClean:
	default:
		return NullCluster, fmt.Errorf(
			"handling file cluster `%d` of inode `%d`: bad op `%d`: %w",
			clustInd,
			nInode,
			op,
			ErrInvalid,
		)
	}
	ino, err := ReadInode(fs, nInode, status)
	if err != nil {
		return NullCluster, fmt.Errorf(
			"handling file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			err,
		)
	}
	sb, err := fs.superblock()
	if err != nil {
		return NullCluster, fmt.Errorf(
			"handling file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			err,
		)
	}

	var out ClusterNo
	switch {
	case clustInd < singleStart:
		out, err = handleDirect(fs, sb, nInode, &ino, clustInd, op)
	case clustInd < doubleStart:
		out, err = handleSingle(fs, sb, nInode, &ino, clustInd, op)
	default:
		out, err = handleDouble(fs, sb, nInode, &ino, clustInd, op)
	}
	if err != nil {
		return NullCluster, fmt.Errorf(
			"handling file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			err,
		)
	}
	if op != OpGet {
		if err := WriteInode(fs, &ino, nInode, status); err != nil {
			return NullCluster, fmt.Errorf(
				"handling file cluster `%d` of inode `%d`: %w",
				clustInd,
				nInode,
				err,
			)
		}
	}
	if err := fs.Meta.StoreSuperblock(); err != nil {
		return NullCluster, fmt.Errorf(
			"handling file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			err,
		)
	}
	return out, nil
}

// handleDirect applies op to a slot of the direct reference list.
func handleDirect(
	fs *FileSystem,
	sb *Superblock,
	nInode InodeNo,
	ino *Inode,
	clustInd uint32,
	op ClusterOp,
) (ClusterNo, error) {
	ref := ino.Direct[clustInd]
	switch op {
	case OpGet:
		return ref, nil
	case OpAlloc:
		if ref != NullCluster {
			return NullCluster, ErrClusterInList
		}
		nClust, err := AllocDataCluster(fs)
		if err != nil {
			return NullCluster, err
		}
		ino.Direct[clustInd] = nClust
		ino.CluCount++
		if err := mapCluster(fs, nInode, nClust); err != nil {
			return NullCluster, err
		}
		return nClust, nil
	case OpFree:
		if ref == NullCluster {
			return NullCluster, ErrClusterNotInList
		}
		return NullCluster, FreeDataCluster(fs, ref)
	case OpFreeClean, OpClean:
		if ref == NullCluster {
			return NullCluster, ErrClusterNotInList
		}
		if op == OpFreeClean {
			if err := FreeDataCluster(fs, ref); err != nil {
				return NullCluster, err
			}
		}
		if err := unmapCluster(fs, nInode, ref); err != nil {
			return NullCluster, err
		}
		ino.Direct[clustInd] = NullCluster
		ino.CluCount--
		return NullCluster, nil
	}
	return NullCluster, ErrInvalid
}

// handleSingle applies op to a slot reached through the single indirect
// reference cluster.
func handleSingle(
	fs *FileSystem,
	sb *Superblock,
	nInode InodeNo,
	ino *Inode,
	clustInd uint32,
	op ClusterOp,
) (ClusterNo, error) {
	sub := clustInd - singleStart
	switch op {
	case OpGet:
		if ino.Single == NullCluster {
			return NullCluster, nil
		}
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, ino.Single),
		); err != nil {
			return NullCluster, err
		}
		refs, err := fs.Meta.DirectRefCluster()
		if err != nil {
			return NullCluster, err
		}
		return refs[sub], nil

	case OpAlloc:
		created := false
		if ino.Single == NullCluster {
			nClust, err := AllocDataCluster(fs)
			if err != nil {
				return NullCluster, err
			}
			ino.Single = nClust
			ino.CluCount++
			created = true
			if err := mapCluster(fs, nInode, nClust); err != nil {
				return NullCluster, err
			}
		}
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, ino.Single),
		); err != nil {
			return NullCluster, err
		}
		refs, err := fs.Meta.DirectRefCluster()
		if err != nil {
			return NullCluster, err
		}
		if created {
			for i := range refs {
				refs[i] = NullCluster
			}
		}
		if refs[sub] != NullCluster {
			return NullCluster, ErrClusterInList
		}
		// The allocator may rotate the reference cluster slots underneath us;
		// persist before allocating and reload afterwards.
		if err := fs.Meta.StoreDirectRefCluster(); err != nil {
			return NullCluster, err
		}
		nClust, err := AllocDataCluster(fs)
		if err != nil {
			return NullCluster, err
		}
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, ino.Single),
		); err != nil {
			return NullCluster, err
		}
		if refs, err = fs.Meta.DirectRefCluster(); err != nil {
			return NullCluster, err
		}
		refs[sub] = nClust
		ino.CluCount++
		if err := mapCluster(fs, nInode, nClust); err != nil {
			return NullCluster, err
		}
		if err := fs.Meta.StoreDirectRefCluster(); err != nil {
			return NullCluster, err
		}
		return nClust, nil

	case OpFree, OpFreeClean, OpClean:
		if ino.Single == NullCluster {
			return NullCluster, ErrClusterNotInList
		}
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, ino.Single),
		); err != nil {
			return NullCluster, err
		}
		refs, err := fs.Meta.DirectRefCluster()
		if err != nil {
			return NullCluster, err
		}
		ref := refs[sub]
		if ref == NullCluster {
			return NullCluster, ErrClusterNotInList
		}
		if op != OpClean {
			if err := FreeDataCluster(fs, ref); err != nil {
				return NullCluster, err
			}
		}
		if op == OpFree {
			return NullCluster, nil
		}
		if err := unmapCluster(fs, nInode, ref); err != nil {
			return NullCluster, err
		}
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, ino.Single),
		); err != nil {
			return NullCluster, err
		}
		if refs, err = fs.Meta.DirectRefCluster(); err != nil {
			return NullCluster, err
		}
		refs[sub] = NullCluster
		ino.CluCount--
		if err := fs.Meta.StoreDirectRefCluster(); err != nil {
			return NullCluster, err
		}
		if refClusterEmpty(refs) {
			// The whole reference cluster emptied; release it too.
			if err := FreeDataCluster(fs, ino.Single); err != nil {
				return NullCluster, err
			}
			if err := unmapCluster(fs, nInode, ino.Single); err != nil {
				return NullCluster, err
			}
			ino.Single = NullCluster
			ino.CluCount--
		}
		return NullCluster, nil
	}
	return NullCluster, ErrInvalid
}

// handleDouble applies op to a slot reached through the double indirect
// chain: the inode's double reference names a cluster of single indirect
// references, each naming a cluster of direct references.
func handleDouble(
	fs *FileSystem,
	sb *Superblock,
	nInode InodeNo,
	ino *Inode,
	clustInd uint32,
	op ClusterOp,
) (ClusterNo, error) {
	kSI := (clustInd - doubleStart) / RefsPerCluster
	kD := (clustInd - singleStart) % RefsPerCluster

	switch op {
	case OpGet:
		if ino.Double == NullCluster {
			return NullCluster, nil
		}
		if err := fs.Meta.LoadSingleRefCluster(
			ClusterBlock(sb, ino.Double),
		); err != nil {
			return NullCluster, err
		}
		single, err := fs.Meta.SingleRefCluster()
		if err != nil {
			return NullCluster, err
		}
		if single[kSI] == NullCluster {
			return NullCluster, nil
		}
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, single[kSI]),
		); err != nil {
			return NullCluster, err
		}
		refs, err := fs.Meta.DirectRefCluster()
		if err != nil {
			return NullCluster, err
		}
		return refs[kD], nil

	case OpAlloc:
		createdSingle := false
		if ino.Double == NullCluster {
			nClust, err := AllocDataCluster(fs)
			if err != nil {
				return NullCluster, err
			}
			ino.Double = nClust
			ino.CluCount++
			createdSingle = true
			if err := mapCluster(fs, nInode, nClust); err != nil {
				return NullCluster, err
			}
		}
		if err := fs.Meta.LoadSingleRefCluster(
			ClusterBlock(sb, ino.Double),
		); err != nil {
			return NullCluster, err
		}
		single, err := fs.Meta.SingleRefCluster()
		if err != nil {
			return NullCluster, err
		}
		if createdSingle {
			for i := range single {
				single[i] = NullCluster
			}
		}
		if err := fs.Meta.StoreSingleRefCluster(); err != nil {
			return NullCluster, err
		}
		refSI := single[kSI]
		createdDirect := false
		if refSI == NullCluster {
			nClust, err := AllocDataCluster(fs)
			if err != nil {
				return NullCluster, err
			}
			if err := fs.Meta.LoadSingleRefCluster(
				ClusterBlock(sb, ino.Double),
			); err != nil {
				return NullCluster, err
			}
			if single, err = fs.Meta.SingleRefCluster(); err != nil {
				return NullCluster, err
			}
			single[kSI] = nClust
			refSI = nClust
			ino.CluCount++
			createdDirect = true
			if err := fs.Meta.StoreSingleRefCluster(); err != nil {
				return NullCluster, err
			}
			if err := mapCluster(fs, nInode, nClust); err != nil {
				return NullCluster, err
			}
		}
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, refSI),
		); err != nil {
			return NullCluster, err
		}
		refs, err := fs.Meta.DirectRefCluster()
		if err != nil {
			return NullCluster, err
		}
		if createdDirect {
			for i := range refs {
				refs[i] = NullCluster
			}
		}
		if refs[kD] != NullCluster {
			return NullCluster, ErrClusterInList
		}
		if err := fs.Meta.StoreDirectRefCluster(); err != nil {
			return NullCluster, err
		}
		nClust, err := AllocDataCluster(fs)
		if err != nil {
			return NullCluster, err
		}
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, refSI),
		); err != nil {
			return NullCluster, err
		}
		if refs, err = fs.Meta.DirectRefCluster(); err != nil {
			return NullCluster, err
		}
		refs[kD] = nClust
		ino.CluCount++
		if err := fs.Meta.StoreDirectRefCluster(); err != nil {
			return NullCluster, err
		}
		if err := mapCluster(fs, nInode, nClust); err != nil {
			return NullCluster, err
		}
		return nClust, nil

	case OpFree, OpFreeClean, OpClean:
		if ino.Double == NullCluster {
			return NullCluster, ErrClusterNotInList
		}
		if err := fs.Meta.LoadSingleRefCluster(
			ClusterBlock(sb, ino.Double),
		); err != nil {
			return NullCluster, err
		}
		single, err := fs.Meta.SingleRefCluster()
		if err != nil {
			return NullCluster, err
		}
		refSI := single[kSI]
		if refSI == NullCluster {
			return NullCluster, ErrClusterNotInList
		}
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, refSI),
		); err != nil {
			return NullCluster, err
		}
		refs, err := fs.Meta.DirectRefCluster()
		if err != nil {
			return NullCluster, err
		}
		ref := refs[kD]
		if ref == NullCluster {
			return NullCluster, ErrClusterNotInList
		}
		if op != OpClean {
			if err := FreeDataCluster(fs, ref); err != nil {
				return NullCluster, err
			}
		}
		if op == OpFree {
			return NullCluster, nil
		}
		if err := unmapCluster(fs, nInode, ref); err != nil {
			return NullCluster, err
		}
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, refSI),
		); err != nil {
			return NullCluster, err
		}
		if refs, err = fs.Meta.DirectRefCluster(); err != nil {
			return NullCluster, err
		}
		refs[kD] = NullCluster
		ino.CluCount--
		if err := fs.Meta.StoreDirectRefCluster(); err != nil {
			return NullCluster, err
		}
		if refClusterEmpty(refs) {
			if err := FreeDataCluster(fs, refSI); err != nil {
				return NullCluster, err
			}
			if err := unmapCluster(fs, nInode, refSI); err != nil {
				return NullCluster, err
			}
			if err := fs.Meta.LoadSingleRefCluster(
				ClusterBlock(sb, ino.Double),
			); err != nil {
				return NullCluster, err
			}
			if single, err = fs.Meta.SingleRefCluster(); err != nil {
				return NullCluster, err
			}
			single[kSI] = NullCluster
			ino.CluCount--
			if err := fs.Meta.StoreSingleRefCluster(); err != nil {
				return NullCluster, err
			}
		}
		if err := fs.Meta.LoadSingleRefCluster(
			ClusterBlock(sb, ino.Double),
		); err != nil {
			return NullCluster, err
		}
		if single, err = fs.Meta.SingleRefCluster(); err != nil {
			return NullCluster, err
		}
		if refClusterEmpty(single) {
			if err := FreeDataCluster(fs, ino.Double); err != nil {
				return NullCluster, err
			}
			if err := unmapCluster(fs, nInode, ino.Double); err != nil {
				return NullCluster, err
			}
			ino.Double = NullCluster
			ino.CluCount--
		}
		return NullCluster, nil
	}
	return NullCluster, ErrInvalid
}

func refClusterEmpty(refs *[RefsPerCluster]ClusterNo) bool {
	for _, ref := range refs {
		if ref != NullCluster {
			return false
		}
	}
	return true
}

// mapCluster records nInode as the owner of data cluster nClust in the
// cluster-to-inode map.
func mapCluster(fs *FileSystem, nInode InodeNo, nClust ClusterNo) error {
	sb, err := fs.superblock()
	if err != nil {
		return err
	}
	if nClust == 0 || uint32(nClust) >= sb.DZoneTotal ||
		uint32(nInode) >= sb.ITotal {
		return fmt.Errorf(
			"mapping cluster `%d` to inode `%d`: %w",
			nClust,
			nInode,
			ErrInvalid,
		)
	}
	nBlk, slot, err := MapTablePos(sb, nClust)
	if err != nil {
		return err
	}
	if err := fs.Meta.LoadMapBlock(nBlk); err != nil {
		return err
	}
	ciMap, err := fs.Meta.MapBlock()
	if err != nil {
		return err
	}
	ciMap[slot] = nInode
	return fs.Meta.StoreMapBlock()
}

// unmapCluster clears the ownership entry of data cluster nClust, which must
// currently name nInode.
func unmapCluster(fs *FileSystem, nInode InodeNo, nClust ClusterNo) error {
	sb, err := fs.superblock()
	if err != nil {
		return err
	}
	if nClust == 0 || uint32(nClust) >= sb.DZoneTotal ||
		uint32(nInode) >= sb.ITotal {
		return fmt.Errorf(
			"unmapping cluster `%d` from inode `%d`: %w",
			nClust,
			nInode,
			ErrInvalid,
		)
	}
	nBlk, slot, err := MapTablePos(sb, nClust)
	if err != nil {
		return err
	}
	if err := fs.Meta.LoadMapBlock(nBlk); err != nil {
		return err
	}
	ciMap, err := fs.Meta.MapBlock()
	if err != nil {
		return err
	}
	if ciMap[slot] != nInode {
		return fmt.Errorf(
			"unmapping cluster `%d` owned by inode `%d`, not `%d`: %w",
			nClust,
			ciMap[slot],
			nInode,
			ErrClusterOwnerBad,
		)
	}
	ciMap[slot] = NullInode
	if err := fs.Meta.StoreMapBlock(); err != nil {
		return err
	}
	return fs.Meta.StoreSuperblock()
}
