package fs

import (
	"fmt"

	. "github.com/weberc2/sofs13/pkg/types"
)

// HandleFileClusters applies op to every allocated slot of the cluster
// reference list of inode nInode whose index is clustIndIn or higher,
// processing the double indirect region first, then the single indirect
// region, then the direct references. op must be OpFree, OpFreeClean or
// OpClean.
func HandleFileClusters(
	fs *FileSystem,
	nInode InodeNo,
	clustIndIn uint32,
	op ClusterOp,
) error {
	if op != OpFree && op != OpFreeClean && op != OpClean {
		return fmt.Errorf(
			"handling file clusters of inode `%d`: bad op `%d`: %w",
			nInode,
			op,
			ErrInvalid,
		)
	}
	if clustIndIn >= uint32(MaxFileClusters) {
		return fmt.Errorf(
			"handling file clusters of inode `%d` from `%d`: %w",
			nInode,
			clustIndIn,
			ErrInvalid,
		)
	}
	status := StatusInUse
	if op == OpClean {
		status = StatusFreeDirty
	}
	ino, err := ReadInode(fs, nInode, status)
	if err != nil {
		return fmt.Errorf(
			"handling file clusters of inode `%d`: %w",
			nInode,
			err,
		)
	}
	sb, err := fs.superblock()
	if err != nil {
		return fmt.Errorf(
			"handling file clusters of inode `%d`: %w",
			nInode,
			err,
		)
	}

	// Work on copies of the reference clusters: the per-slot operation
	// reloads and rewrites the shared cache slots as it goes.
	if ino.Double != NullCluster {
		if err := fs.Meta.LoadSingleRefCluster(
			ClusterBlock(sb, ino.Double),
		); err != nil {
			return fmt.Errorf(
				"handling file clusters of inode `%d`: %w",
				nInode,
				err,
			)
		}
		ptr, err := fs.Meta.SingleRefCluster()
		if err != nil {
			return fmt.Errorf(
				"handling file clusters of inode `%d`: %w",
				nInode,
				err,
			)
		}
		single := *ptr
		kSI, kD := uint32(0), uint32(0)
		if clustIndIn >= doubleStart {
			kSI = (clustIndIn - doubleStart) / RefsPerCluster
			kD = (clustIndIn - doubleStart) % RefsPerCluster
		}
		for ; kSI < RefsPerCluster; kSI++ {
			if single[kSI] == NullCluster {
				kD = 0
				continue
			}
			if err := fs.Meta.LoadDirectRefCluster(
				ClusterBlock(sb, single[kSI]),
			); err != nil {
				return fmt.Errorf(
					"handling file clusters of inode `%d`: %w",
					nInode,
					err,
				)
			}
			ptr, err := fs.Meta.DirectRefCluster()
			if err != nil {
				return fmt.Errorf(
					"handling file clusters of inode `%d`: %w",
					nInode,
					err,
				)
			}
			refs := *ptr
			for ; kD < RefsPerCluster; kD++ {
				if refs[kD] == NullCluster {
					continue
				}
				ind := doubleStart + kSI*RefsPerCluster + kD
				if _, err := HandleFileCluster(fs, nInode, ind, op); err != nil {
					return fmt.Errorf(
						"handling file clusters of inode `%d`: %w",
						nInode,
						err,
					)
				}
			}
			kD = 0
		}
	}

	if ino.Single != NullCluster && clustIndIn < doubleStart {
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, ino.Single),
		); err != nil {
			return fmt.Errorf(
				"handling file clusters of inode `%d`: %w",
				nInode,
				err,
			)
		}
		ptr, err := fs.Meta.DirectRefCluster()
		if err != nil {
			return fmt.Errorf(
				"handling file clusters of inode `%d`: %w",
				nInode,
				err,
			)
		}
		refs := *ptr
		sub := uint32(0)
		if clustIndIn >= singleStart {
			sub = clustIndIn - singleStart
		}
		for ; sub < RefsPerCluster; sub++ {
			if refs[sub] == NullCluster {
				continue
			}
			if _, err := HandleFileCluster(
				fs,
				nInode,
				singleStart+sub,
				op,
			); err != nil {
				return fmt.Errorf(
					"handling file clusters of inode `%d`: %w",
					nInode,
					err,
				)
			}
		}
	}

	if clustIndIn < singleStart {
		for ind := clustIndIn; ind < singleStart; ind++ {
			if ino.Direct[ind] == NullCluster {
				continue
			}
			if _, err := HandleFileCluster(fs, nInode, ind, op); err != nil {
				return fmt.Errorf(
					"handling file clusters of inode `%d`: %w",
					nInode,
					err,
				)
			}
		}
	}
	return nil
}

// ReadFileCluster reads the data cluster at index clustInd of the file
// described by inode nInode into buf. An unallocated cluster reads as zeros.
func ReadFileCluster(
	fs *FileSystem,
	nInode InodeNo,
	clustInd uint32,
	buf *[ClusterSize]byte,
) error {
	ref, err := HandleFileCluster(fs, nInode, clustInd, OpGet)
	if err != nil {
		return fmt.Errorf(
			"reading file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			err,
		)
	}
	if ref == NullCluster {
		*buf = [ClusterSize]byte{}
		return nil
	}
	sb, err := fs.superblock()
	if err != nil {
		return fmt.Errorf(
			"reading file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			err,
		)
	}
	if err := fs.Dev.ReadCluster(ClusterBlock(sb, ref), buf); err != nil {
		return fmt.Errorf(
			"reading file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			err,
		)
	}
	return nil
}

// WriteFileCluster writes buf into the data cluster at index clustInd of the
// file described by inode nInode, allocating the cluster first if needed.
func WriteFileCluster(
	fs *FileSystem,
	nInode InodeNo,
	clustInd uint32,
	buf *[ClusterSize]byte,
) error {
	ref, err := HandleFileCluster(fs, nInode, clustInd, OpGet)
	if err != nil {
		return fmt.Errorf(
			"writing file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			err,
		)
	}
	if ref == NullCluster {
		if ref, err = HandleFileCluster(fs, nInode, clustInd, OpAlloc); err != nil {
			return fmt.Errorf(
				"writing file cluster `%d` of inode `%d`: %w",
				clustInd,
				nInode,
				err,
			)
		}
	}
	sb, err := fs.superblock()
	if err != nil {
		return fmt.Errorf(
			"writing file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			err,
		)
	}
	if err := fs.Dev.WriteCluster(ClusterBlock(sb, ref), buf); err != nil {
		return fmt.Errorf(
			"writing file cluster `%d` of inode `%d`: %w",
			clustInd,
			nInode,
			err,
		)
	}
	return nil
}

// readInodeRaw copies an inode out of the table with no lifecycle validation
// and no access time side effect. The dirty-cluster cleanup uses it because
// the former owner of a reused cluster may be either in use or free-dirty; the
// consistency checks use it to read inodes in any state.
func readInodeRaw(fs *FileSystem, nInode InodeNo) (Inode, error) {
	sb, err := fs.superblock()
	if err != nil {
		return Inode{}, err
	}
	nBlk, off, err := InodeTablePos(sb, nInode)
	if err != nil {
		return Inode{}, err
	}
	if err := fs.Meta.LoadInodeBlock(nBlk); err != nil {
		return Inode{}, err
	}
	block, err := fs.Meta.InodeBlock()
	if err != nil {
		return Inode{}, err
	}
	return block[off], nil
}

func writeInodeRaw(fs *FileSystem, ino *Inode, nInode InodeNo) error {
	sb, err := fs.superblock()
	if err != nil {
		return err
	}
	nBlk, off, err := InodeTablePos(sb, nInode)
	if err != nil {
		return err
	}
	if err := fs.Meta.LoadInodeBlock(nBlk); err != nil {
		return err
	}
	block, err := fs.Meta.InodeBlock()
	if err != nil {
		return err
	}
	block[off] = *ino
	return fs.Meta.StoreInodeBlock()
}

// cleanDataCluster dissociates the freed data cluster nClust from its former
// owner: the owning slot is located across the owner's reference chains and
// cleaned in place, collapsing intermediate clusters that empty. It backs the
// allocator's reuse of dirty clusters.
func cleanDataCluster(fs *FileSystem, owner InodeNo, nClust ClusterNo) error {
	sb, err := fs.superblock()
	if err != nil {
		return fmt.Errorf(
			"cleaning data cluster `%d` of inode `%d`: %w",
			nClust,
			owner,
			err,
		)
	}
	ino, err := readInodeRaw(fs, owner)
	if err != nil {
		return fmt.Errorf(
			"cleaning data cluster `%d` of inode `%d`: %w",
			nClust,
			owner,
			err,
		)
	}
	ind, found, err := findClusterIndex(fs, sb, &ino, nClust)
	if err != nil {
		return fmt.Errorf(
			"cleaning data cluster `%d` of inode `%d`: %w",
			nClust,
			owner,
			err,
		)
	}
	if !found {
		return fmt.Errorf(
			"cleaning data cluster `%d` of inode `%d`: %w",
			nClust,
			owner,
			ErrClusterNotInList,
		)
	}
	switch {
	case ind < singleStart:
		_, err = handleDirect(fs, sb, owner, &ino, ind, OpClean)
	case ind < doubleStart:
		_, err = handleSingle(fs, sb, owner, &ino, ind, OpClean)
	default:
		_, err = handleDouble(fs, sb, owner, &ino, ind, OpClean)
	}
	if err != nil {
		return fmt.Errorf(
			"cleaning data cluster `%d` of inode `%d`: %w",
			nClust,
			owner,
			err,
		)
	}
	if err := writeInodeRaw(fs, &ino, owner); err != nil {
		return fmt.Errorf(
			"cleaning data cluster `%d` of inode `%d`: %w",
			nClust,
			owner,
			err,
		)
	}
	return nil
}

// findClusterIndex locates nClust within the reference chains of ino and
// returns its logical cluster index.
func findClusterIndex(
	fs *FileSystem,
	sb *Superblock,
	ino *Inode,
	nClust ClusterNo,
) (uint32, bool, error) {
	for i, ref := range ino.Direct {
		if ref == nClust {
			return uint32(i), true, nil
		}
	}
	if ino.Single != NullCluster {
		if err := fs.Meta.LoadDirectRefCluster(
			ClusterBlock(sb, ino.Single),
		); err != nil {
			return 0, false, err
		}
		ptr, err := fs.Meta.DirectRefCluster()
		if err != nil {
			return 0, false, err
		}
		for i, ref := range ptr {
			if ref == nClust {
				return singleStart + uint32(i), true, nil
			}
		}
	}
	if ino.Double != NullCluster {
		if err := fs.Meta.LoadSingleRefCluster(
			ClusterBlock(sb, ino.Double),
		); err != nil {
			return 0, false, err
		}
		ptr, err := fs.Meta.SingleRefCluster()
		if err != nil {
			return 0, false, err
		}
		single := *ptr
		for k, refSI := range single {
			if refSI == NullCluster {
				continue
			}
			if err := fs.Meta.LoadDirectRefCluster(
				ClusterBlock(sb, refSI),
			); err != nil {
				return 0, false, err
			}
			refs, err := fs.Meta.DirectRefCluster()
			if err != nil {
				return 0, false, err
			}
			for i, ref := range refs {
				if ref == nClust {
					return doubleStart + uint32(k)*RefsPerCluster + uint32(i),
						true,
						nil
				}
			}
		}
	}
	return 0, false, nil
}
