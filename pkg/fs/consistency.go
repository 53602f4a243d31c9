package fs

import (
	"fmt"

	. "github.com/weberc2/sofs13/pkg/types"
)

// CheckConsistency cross-references every structure of the volume: the free
// inode list against the free count, the exclusive state of every data
// cluster against the free-cluster total, the ownership map against every
// in-use inode's reference chains, and the shape of every directory. It is
// run by the formatter self-check and by tests after operation sequences.
func CheckConsistency(fs *FileSystem) error {
	sb, err := fs.superblock()
	if err != nil {
		return fmt.Errorf("checking consistency: %w", err)
	}
	if err := QCheckSuperblock(sb); err != nil {
		return fmt.Errorf("checking consistency: %w", err)
	}
	if err := QCheckDataZone(sb); err != nil {
		return fmt.Errorf("checking consistency: %w", err)
	}
	if err := checkFreeInodeList(fs, sb); err != nil {
		return fmt.Errorf("checking consistency: %w", err)
	}
	if err := checkClusterStates(fs, sb); err != nil {
		return fmt.Errorf("checking consistency: %w", err)
	}
	if err := checkInodeChains(fs, sb); err != nil {
		return fmt.Errorf("checking consistency: %w", err)
	}
	return nil
}

// checkFreeInodeList walks the free list forward from the head and backward
// from the tail; both walks must visit exactly IFree inodes, every one with
// the free bit set, and the set of free-bit inodes in the table must match.
func checkFreeInodeList(fs *FileSystem, sb *Superblock) error {
	freeBits := uint32(0)
	for n := InodeNo(0); uint32(n) < sb.ITotal; n++ {
		ino, err := readInodeRaw(fs, n)
		if err != nil {
			return err
		}
		if ino.Mode.IsFree() {
			freeBits++
		}
	}
	if freeBits != sb.IFree {
		return fmt.Errorf(
			"counted `%d` free inodes, superblock says `%d`: %w",
			freeBits,
			sb.IFree,
			ErrFreeInodeListBad,
		)
	}

	walk := func(start InodeNo, next func(*Inode) InodeNo) error {
		visited := uint32(0)
		for n := start; n != NullInode; {
			if uint32(n) >= sb.ITotal {
				return fmt.Errorf(
					"free list points at inode `%d`: %w",
					n,
					ErrFreeInodeListBad,
				)
			}
			ino, err := readInodeRaw(fs, n)
			if err != nil {
				return err
			}
			if !ino.Mode.IsFree() {
				return fmt.Errorf(
					"free list holds in-use inode `%d`: %w",
					n,
					ErrFreeInodeListBad,
				)
			}
			visited++
			if visited > sb.IFree {
				return fmt.Errorf(
					"free list longer than `%d`: %w",
					sb.IFree,
					ErrFreeInodeListBad,
				)
			}
			n = next(&ino)
		}
		if visited != sb.IFree {
			return fmt.Errorf(
				"free list of length `%d`, superblock says `%d`: %w",
				visited,
				sb.IFree,
				ErrFreeInodeListBad,
			)
		}
		return nil
	}
	if err := walk(sb.IHead, func(ino *Inode) InodeNo {
		return ino.Links.Next
	}); err != nil {
		return err
	}
	return walk(sb.ITail, func(ino *Inode) InodeNo { return ino.Links.Prev })
}

// checkClusterStates verifies the exclusive state of every data cluster: a
// cluster sits in at most one of the bitmap, the retrieval cache and the
// insertion cache; the total of those three is the free count; and a cluster
// in none of them is owned (its map entry names an inode).
func checkClusterStates(fs *FileSystem, sb *Superblock) error {
	inRetrieve := map[ClusterNo]bool{}
	for i, ref := range sb.Retrieve.Refs {
		if uint32(i) >= sb.Retrieve.Idx {
			inRetrieve[ref] = true
		}
	}
	inInsert := map[ClusterNo]bool{}
	for i, ref := range sb.Insert.Refs {
		if uint32(i) < sb.Insert.Idx {
			inInsert[ref] = true
		}
	}

	free := uint32(0)
	for ref := ClusterNo(0); uint32(ref) < sb.DZoneTotal; ref++ {
		nBlk, byteOff, bitOff, err := BitmapPos(sb, ref)
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
		inBitmap := bitmap[byteOff]&(0x80>>bitOff) != 0

		states := 0
		if inBitmap {
			states++
		}
		if inRetrieve[ref] {
			states++
		}
		if inInsert[ref] {
			states++
		}
		if states > 1 {
			return fmt.Errorf(
				"cluster `%d` in `%d` free states at once: %w",
				ref,
				states,
				ErrFreeCountBad,
			)
		}
		if states == 1 {
			free++
			continue
		}

		mBlk, slot, err := MapTablePos(sb, ref)
		if err != nil {
			return err
		}
		if err := fs.Meta.LoadMapBlock(mBlk); err != nil {
			return err
		}
		ciMap, err := fs.Meta.MapBlock()
		if err != nil {
			return err
		}
		owner := ciMap[slot]
		if owner == NullInode {
			return fmt.Errorf(
				"cluster `%d` neither free nor owned: %w",
				ref,
				ErrMapBad,
			)
		}
		if uint32(owner) >= sb.ITotal {
			return fmt.Errorf(
				"cluster `%d` owned by out-of-range inode `%d`: %w",
				ref,
				owner,
				ErrMapBad,
			)
		}
	}
	if free != sb.DZoneFree {
		return fmt.Errorf(
			"counted `%d` free clusters, superblock says `%d`: %w",
			free,
			sb.DZoneFree,
			ErrFreeCountBad,
		)
	}
	return nil
}

// checkInodeChains verifies, for every in-use inode, that each cluster its
// reference chains reach is mapped back to it, that the chain population
// matches the recorded cluster count, and that directories are well-formed.
func checkInodeChains(fs *FileSystem, sb *Superblock) error {
	for n := InodeNo(0); uint32(n) < sb.ITotal; n++ {
		ino, err := readInodeRaw(fs, n)
		if err != nil {
			return err
		}
		if ino.Mode.IsFree() {
			continue
		}
		if err := QCheckInodeInUse(sb, &ino); err != nil {
			return err
		}
		attached := uint32(0)
		checkOwned := func(ref ClusterNo) error {
			attached++
			mBlk, slot, err := MapTablePos(sb, ref)
			if err != nil {
				return err
			}
			if err := fs.Meta.LoadMapBlock(mBlk); err != nil {
				return err
			}
			ciMap, err := fs.Meta.MapBlock()
			if err != nil {
				return err
			}
			if ciMap[slot] != n {
				return fmt.Errorf(
					"cluster `%d` reached from inode `%d` but owned by "+
						"`%d`: %w",
					ref,
					n,
					ciMap[slot],
					ErrClusterOwnerBad,
				)
			}
			return nil
		}

		for _, ref := range ino.Direct {
			if ref == NullCluster {
				continue
			}
			if err := checkOwned(ref); err != nil {
				return err
			}
		}
		if ino.Single != NullCluster {
			if err := checkOwned(ino.Single); err != nil {
				return err
			}
			if err := fs.Meta.LoadDirectRefCluster(
				ClusterBlock(sb, ino.Single),
			); err != nil {
				return err
			}
			ptr, err := fs.Meta.DirectRefCluster()
			if err != nil {
				return err
			}
			refs := *ptr
			for _, ref := range refs {
				if ref == NullCluster {
					continue
				}
				if err := checkOwned(ref); err != nil {
					return err
				}
			}
		}
		if ino.Double != NullCluster {
			if err := checkOwned(ino.Double); err != nil {
				return err
			}
			if err := fs.Meta.LoadSingleRefCluster(
				ClusterBlock(sb, ino.Double),
			); err != nil {
				return err
			}
			ptr, err := fs.Meta.SingleRefCluster()
			if err != nil {
				return err
			}
			single := *ptr
			for _, refSI := range single {
				if refSI == NullCluster {
					continue
				}
				if err := checkOwned(refSI); err != nil {
					return err
				}
				if err := fs.Meta.LoadDirectRefCluster(
					ClusterBlock(sb, refSI),
				); err != nil {
					return err
				}
				sub, err := fs.Meta.DirectRefCluster()
				if err != nil {
					return err
				}
				refs := *sub
				for _, ref := range refs {
					if ref == NullCluster {
						continue
					}
					if err := checkOwned(ref); err != nil {
						return err
					}
				}
			}
		}
		if attached != ino.CluCount {
			return fmt.Errorf(
				"inode `%d` reaches `%d` clusters but records `%d`: %w",
				n,
				attached,
				ino.CluCount,
				ErrRefListBad,
			)
		}
		if ino.Mode.IsDir() {
			if err := QCheckDirContents(fs, n, &ino); err != nil {
				return err
			}
		}
	}
	return nil
}
