package fs

import (
	"fmt"

	. "github.com/weberc2/sofs13/pkg/types"
)

// Quick consistency predicates over the major structures. They are cheap
// structural checks run at the entry of mutating operations; the exhaustive
// cross-referencing battery lives in CheckConsistency.

// QCheckSuperblock validates the superblock header, the inode table metadata
// and the chained layout of the tables.
func QCheckSuperblock(sb *Superblock) error {
	if sb.Magic != Magic || sb.Version != Version {
		return fmt.Errorf(
			"checking superblock header (magic `%#x`, version `%#x`): %w",
			sb.Magic,
			sb.Version,
			ErrSuperblockBad,
		)
	}
	if sb.ITableStart != 1 ||
		sb.ITotal != sb.ITableSize*InodesPerBlock ||
		sb.CIMapStart != sb.ITableStart+BlockNo(sb.ITableSize) ||
		sb.FCTStart != sb.CIMapStart+BlockNo(sb.CIMapSize) ||
		sb.DZoneStart != sb.FCTStart+BlockNo(sb.FCTSize) {
		return fmt.Errorf("checking superblock layout: %w", ErrSuperblockBad)
	}
	metaBlocks := 1 + sb.ITableSize + sb.CIMapSize + sb.FCTSize
	if sb.NTotal < metaBlocks ||
		sb.DZoneTotal > (sb.NTotal-metaBlocks)/BlocksPerCluster {
		return fmt.Errorf(
			"checking superblock data zone extent: %w",
			ErrSuperblockBad,
		)
	}
	if sb.IFree > sb.ITotal {
		return fmt.Errorf(
			"checking superblock inode counts (`%d` free of `%d`): %w",
			sb.IFree,
			sb.ITotal,
			ErrSuperblockBad,
		)
	}
	if (sb.IFree == 0) != (sb.IHead == NullInode) ||
		(sb.IFree == 0) != (sb.ITail == NullInode) {
		return fmt.Errorf(
			"checking free inode list anchors: %w",
			ErrSuperblockBad,
		)
	}
	if sb.IHead != NullInode && uint32(sb.IHead) >= sb.ITotal {
		return fmt.Errorf("checking free inode list head: %w", ErrSuperblockBad)
	}
	if sb.ITail != NullInode && uint32(sb.ITail) >= sb.ITotal {
		return fmt.Errorf("checking free inode list tail: %w", ErrSuperblockBad)
	}
	return nil
}

// QCheckDataZone validates the data zone metadata and the two reference
// caches.
func QCheckDataZone(sb *Superblock) error {
	if sb.DZoneFree > sb.DZoneTotal {
		return fmt.Errorf(
			"checking data zone counts (`%d` free of `%d`): %w",
			sb.DZoneFree,
			sb.DZoneTotal,
			ErrDataZoneBad,
		)
	}
	if sb.FCTPos >= sb.DZoneTotal {
		return fmt.Errorf(
			"checking bitmap search position `%d`: %w",
			sb.FCTPos,
			ErrDataZoneBad,
		)
	}
	if sb.Retrieve.Idx > DZoneCacheSize || sb.Insert.Idx > DZoneCacheSize {
		return fmt.Errorf(
			"checking reference cache indices: %w",
			ErrFreeCacheBad,
		)
	}
	// Occupied retrieval slots are [Idx, DZoneCacheSize); occupied insertion
	// slots are [0, Idx). Everything else must be null.
	for i, ref := range sb.Retrieve.Refs {
		occupied := uint32(i) >= sb.Retrieve.Idx
		if err := qCheckCacheSlot(sb, ref, occupied); err != nil {
			return fmt.Errorf("checking retrieval cache slot `%d`: %w", i, err)
		}
	}
	for i, ref := range sb.Insert.Refs {
		occupied := uint32(i) < sb.Insert.Idx
		if err := qCheckCacheSlot(sb, ref, occupied); err != nil {
			return fmt.Errorf("checking insertion cache slot `%d`: %w", i, err)
		}
	}
	return nil
}

func qCheckCacheSlot(sb *Superblock, ref ClusterNo, occupied bool) error {
	if !occupied {
		if ref != NullCluster {
			return ErrFreeCacheBad
		}
		return nil
	}
	if ref == NullCluster || uint32(ref) >= sb.DZoneTotal || ref == 0 {
		return ErrFreeCacheBad
	}
	return nil
}

// QCheckInodeInUse validates an inode that is supposed to be in use.
func QCheckInodeInUse(sb *Superblock, ino *Inode) error {
	if ino.Mode.IsFree() || !ino.Mode.HasLegalType() {
		return fmt.Errorf(
			"checking in-use inode mode `%#x`: %w",
			uint16(ino.Mode),
			ErrInodeInUseBad,
		)
	}
	if ino.Size > MaxFileSize || ino.CluCount > uint32(MaxFileClusters) {
		return fmt.Errorf(
			"checking in-use inode extent (size `%d`, clusters `%d`): %w",
			ino.Size,
			ino.CluCount,
			ErrInodeInUseBad,
		)
	}
	if err := qCheckRefList(sb, ino); err != nil {
		return err
	}
	return nil
}

// QCheckFreeDirtyInode validates an inode that is supposed to be free in the
// dirty state.
func QCheckFreeDirtyInode(sb *Superblock, ino *Inode) error {
	if !ino.Mode.IsFree() || !ino.Mode.HasLegalType() {
		return fmt.Errorf(
			"checking free-dirty inode mode `%#x`: %w",
			uint16(ino.Mode),
			ErrFreeDirtyInodeBad,
		)
	}
	if ino.Links.Prev != NullInode && uint32(ino.Links.Prev) >= sb.ITotal {
		return fmt.Errorf(
			"checking free-dirty inode links: %w",
			ErrFreeDirtyInodeBad,
		)
	}
	if ino.Links.Next != NullInode && uint32(ino.Links.Next) >= sb.ITotal {
		return fmt.Errorf(
			"checking free-dirty inode links: %w",
			ErrFreeDirtyInodeBad,
		)
	}
	if err := qCheckRefList(sb, ino); err != nil {
		return err
	}
	return nil
}

// qCheckRefList bounds-checks every non-null cluster reference of the inode.
func qCheckRefList(sb *Superblock, ino *Inode) error {
	check := func(ref ClusterNo) error {
		if ref != NullCluster && uint32(ref) >= sb.DZoneTotal {
			return fmt.Errorf(
				"checking cluster reference `%d` of `%d`: %w",
				ref,
				sb.DZoneTotal,
				ErrRefListBad,
			)
		}
		return nil
	}
	for _, ref := range ino.Direct {
		if err := check(ref); err != nil {
			return err
		}
	}
	if err := check(ino.Single); err != nil {
		return err
	}
	return check(ino.Double)
}

// QCheckClusterStat reports whether the data cluster ref is currently
// allocated. A cluster is allocated when its map entry names an owner, or when
// its bitmap bit is clear and it sits in neither reference cache.
func QCheckClusterStat(fs *FileSystem, ref ClusterNo) (bool, error) {
	sb, err := fs.superblock()
	if err != nil {
		return false, err
	}
	nBlk, slot, err := MapTablePos(sb, ref)
	if err != nil {
		return false, err
	}
	if err := fs.Meta.LoadMapBlock(nBlk); err != nil {
		return false, err
	}
	ciMap, err := fs.Meta.MapBlock()
	if err != nil {
		return false, err
	}
	if ciMap[slot] != NullInode {
		return true, nil
	}
	for i, cached := range sb.Retrieve.Refs {
		if uint32(i) >= sb.Retrieve.Idx && cached == ref {
			return false, nil
		}
	}
	for i, cached := range sb.Insert.Refs {
		if uint32(i) < sb.Insert.Idx && cached == ref {
			return false, nil
		}
	}
	bmBlk, byteOff, bitOff, err := BitmapPos(sb, ref)
	if err != nil {
		return false, err
	}
	if err := fs.Meta.LoadBitmapBlock(bmBlk); err != nil {
		return false, err
	}
	bitmap, err := fs.Meta.BitmapBlock()
	if err != nil {
		return false, err
	}
	free := bitmap[byteOff]&(0x80>>bitOff) != 0
	return !free, nil
}

// QCheckDirContents validates the shape of a directory: size is a whole
// number of clusters within bounds and the first two entries are `.` and
// `..`. Clean-empty holes in the middle are legal; detachment leaves them and
// the add operation refills the earliest one.
func QCheckDirContents(fs *FileSystem, nInode InodeNo, ino *Inode) error {
	if !ino.Mode.IsDir() {
		return fmt.Errorf(
			"checking directory contents of inode `%d`: %w",
			nInode,
			ErrNotDir,
		)
	}
	if ino.Size == 0 || ino.Size%ClusterSize != 0 || ino.Size > MaxFileSize {
		return fmt.Errorf(
			"checking directory size `%d` of inode `%d`: %w",
			ino.Size,
			nInode,
			ErrDirBad,
		)
	}
	sb, err := fs.superblock()
	if err != nil {
		return err
	}
	clusters := uint32(ino.Size / ClusterSize)
	for c := uint32(0); c < clusters; c++ {
		var entries [DirEntriesPerCluster]DirEntry
		if err := readDirCluster(fs, nInode, c, &entries); err != nil {
			return err
		}
		if c == 0 {
			if entries[0].EntryName() != "." || entries[0].Ino != nInode {
				return fmt.Errorf(
					"checking self entry of directory inode `%d`: %w",
					nInode,
					ErrDirBad,
				)
			}
			if entries[1].EntryName() != ".." {
				return fmt.Errorf(
					"checking parent entry of directory inode `%d`: %w",
					nInode,
					ErrDirBad,
				)
			}
		}
		for i := range entries {
			if entries[i].InUse() && uint32(entries[i].Ino) >= sb.ITotal {
				return fmt.Errorf(
					"checking entry `%d` of directory inode `%d`: %w",
					uint32(c)*DirEntriesPerCluster+uint32(i),
					nInode,
					ErrDirEntryBad,
				)
			}
		}
	}
	return nil
}
