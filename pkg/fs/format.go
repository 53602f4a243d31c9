package fs

import (
	"fmt"
	"os"

	"github.com/weberc2/sofs13/pkg/cache"
	"github.com/weberc2/sofs13/pkg/device"
	"github.com/weberc2/sofs13/pkg/encode"
	. "github.com/weberc2/sofs13/pkg/types"
)

// FormatOptions configure the formatter.
type FormatOptions struct {
	// Name is the volume name, capped at MaxVolumeName bytes.
	Name string
	// Inodes is the requested inode count; zero selects one inode per eight
	// blocks. The count is rounded up to whole inode table blocks and honored
	// exactly.
	Inodes uint32
	// Zero additionally fills every free data cluster with zeros.
	Zero bool
}

// DefaultVolumeName is used when FormatOptions.Name is empty.
const DefaultVolumeName = "SOFS13"

// unfittedMapSlot marks the cluster-to-inode map slots past the data zone.
const unfittedMapSlot InodeNo = 0xFFFFFFFE

// Geometry is the computed block layout of a volume about to be formatted.
type Geometry struct {
	NTotal     uint32
	ITotal     uint32
	ITableSize uint32
	CIMapSize  uint32
	FCTSize    uint32
	DZoneTotal uint32
}

// PlanGeometry solves the layout equation for a device of ntotal blocks:
// one superblock, the inode table, the cluster-to-inode map, the bitmap, and
// the data zone must all fit. The equation is non-linear (the map and the
// bitmap grow with the data zone), so the sizes are settled iteratively.
func PlanGeometry(ntotal uint32, inodes uint32) (Geometry, error) {
	if inodes == 0 {
		inodes = ntotal / 8
	}
	iblk := (inodes + InodesPerBlock - 1) / InodesPerBlock
	itotal := iblk * InodesPerBlock

	divUp := func(n, d uint32) uint32 { return (n + d - 1) / d }

	if ntotal < 1+iblk+2+BlocksPerCluster {
		return Geometry{}, fmt.Errorf(
			"planning layout of `%d` blocks with `%d` inodes: %w",
			ntotal,
			itotal,
			ErrNoSpace,
		)
	}
	tmp := (ntotal - 1 - iblk) / BlocksPerCluster
	fcblk := divUp(tmp, BitsPerBlock)
	ciblk := divUp(tmp, RefsPerBlock)
	nclust := (ntotal - 1 - iblk - fcblk - ciblk) / BlocksPerCluster
	fcblk = divUp(nclust, BitsPerBlock)
	ciblk = divUp(nclust, RefsPerBlock)
	if nclust%BitsPerBlock != 0 && nclust%RefsPerBlock != 0 {
		slack := ntotal - 1 - iblk - fcblk - ciblk - nclust*BlocksPerCluster
		if slack >= BlocksPerCluster {
			nclust++
		}
	}
	if nclust < 2 || itotal < 2 {
		return Geometry{}, fmt.Errorf(
			"planning layout of `%d` blocks with `%d` inodes: %w",
			ntotal,
			itotal,
			ErrNoSpace,
		)
	}
	return Geometry{
		NTotal:     ntotal,
		ITotal:     itotal,
		ITableSize: iblk,
		CIMapSize:  ciblk,
		FCTSize:    fcblk,
		DZoneTotal: nclust,
	}, nil
}

// Format lays a fresh file system down on the backing file at path. The magic
// number is written last, so an interrupted format leaves a volume that can
// never be mounted. The formatted state passes the consistency self-check
// before returning.
func Format(path string, opts *FormatOptions) error {
	wrap := func(err error) error {
		return fmt.Errorf("formatting `%s`: %w", path, err)
	}
	name := opts.Name
	if name == "" {
		name = DefaultVolumeName
	}
	dev, err := device.Open(path)
	if err != nil {
		return wrap(err)
	}
	defer dev.Close()

	geo, err := PlanGeometry(dev.Blocks(), opts.Inodes)
	if err != nil {
		return wrap(err)
	}

	fs := &FileSystem{
		Dev:  dev,
		Meta: cache.NewMeta(dev),
		Proc: Process{UID: uint32(os.Getuid()), GID: uint32(os.Getgid())},
	}

	sb, err := fs.superblock()
	if err != nil {
		return wrap(err)
	}
	fillSuperblock(sb, &geo, name)
	if err := fs.Meta.ResetSuperblockReserved(); err != nil {
		return wrap(err)
	}
	if err := fs.Meta.StoreSuperblock(); err != nil {
		return wrap(err)
	}
	if err := fillInodeTable(fs, sb); err != nil {
		return wrap(err)
	}
	if err := fillClusterMap(fs, sb); err != nil {
		return wrap(err)
	}
	if err := fillRootDir(fs, sb); err != nil {
		return wrap(err)
	}
	if err := fillBitmap(fs, sb, opts.Zero); err != nil {
		return wrap(err)
	}

	sb.Magic = Magic
	if err := fs.Meta.StoreSuperblock(); err != nil {
		return wrap(err)
	}
	if err := selfCheck(fs, sb); err != nil {
		return wrap(err)
	}
	return nil
}

// fillSuperblock seeds every superblock field. The magic number stays at an
// invalid placeholder until the remaining structures are in place.
func fillSuperblock(sb *Superblock, geo *Geometry, name string) {
	*sb = Superblock{
		Magic:       0xFFFF,
		Version:     Version,
		NTotal:      geo.NTotal,
		MStat:       MountedClean,
		ITableStart: 1,
		ITableSize:  geo.ITableSize,
		ITotal:      geo.ITotal,
		IFree:       geo.ITotal - 1,
		IHead:       1,
		ITail:       InodeNo(geo.ITotal - 1),
		CIMapStart:  1 + BlockNo(geo.ITableSize),
		CIMapSize:   geo.CIMapSize,
		FCTSize:     geo.FCTSize,
		FCTPos:      1,
		DZoneTotal:  geo.DZoneTotal,
		DZoneFree:   geo.DZoneTotal - 1,
	}
	sb.SetVolumeName(name)
	sb.FCTStart = sb.CIMapStart + BlockNo(sb.CIMapSize)
	sb.DZoneStart = sb.FCTStart + BlockNo(sb.FCTSize)
	sb.Retrieve.Idx = DZoneCacheSize
	sb.Insert.Idx = 0
	for i := 0; i < DZoneCacheSize; i++ {
		sb.Retrieve.Refs[i] = NullCluster
		sb.Insert.Refs[i] = NullCluster
	}
}

// fillInodeTable writes inode 0 as the root directory and chains every other
// inode into the free list in ascending order.
func fillInodeTable(fs *FileSystem, sb *Superblock) error {
	t0 := now()
	for blk := uint32(0); blk < sb.ITableSize; blk++ {
		if err := fs.Meta.LoadInodeBlock(blk); err != nil {
			return err
		}
		block, err := fs.Meta.InodeBlock()
		if err != nil {
			return err
		}
		for i := range block {
			node := blk*InodesPerBlock + uint32(i)
			block[i] = Inode{Mode: ModeFree}
			block[i].ClearRefs()
			block[i].Links = LinkPair{
				Prev: InodeNo(node - 1),
				Next: InodeNo(node + 1),
			}
			switch {
			case node == 0:
				block[i] = Inode{
					Mode:     ModeDir | ModePermMask,
					RefCount: 2,
					Owner:    fs.Proc.UID,
					Group:    fs.Proc.GID,
					Size:     ClusterSize,
					CluCount: 1,
					Times:    TimePair{ATime: t0, MTime: t0},
				}
				block[i].ClearRefs()
				block[i].Direct[0] = 0
			case node == 1:
				block[i].Links.Prev = NullInode
			}
			if node == sb.ITotal-1 {
				block[i].Links.Next = NullInode
			}
		}
		if err := fs.Meta.StoreInodeBlock(); err != nil {
			return err
		}
	}
	return nil
}

// fillClusterMap assigns data cluster 0 to the root inode, nulls every other
// in-range entry and marks the out-of-range tail of the last block.
func fillClusterMap(fs *FileSystem, sb *Superblock) error {
	for blk := uint32(0); blk < sb.CIMapSize; blk++ {
		if err := fs.Meta.LoadMapBlock(blk); err != nil {
			return err
		}
		ciMap, err := fs.Meta.MapBlock()
		if err != nil {
			return err
		}
		for i := range ciMap {
			ref := blk*RefsPerBlock + uint32(i)
			switch {
			case ref == 0:
				ciMap[i] = InodeRoot
			case ref < sb.DZoneTotal:
				ciMap[i] = NullInode
			default:
				ciMap[i] = unfittedMapSlot
			}
		}
		if err := fs.Meta.StoreMapBlock(); err != nil {
			return err
		}
	}
	return nil
}

// fillRootDir writes the contents of data cluster 0: the root seen as an
// empty directory.
func fillRootDir(fs *FileSystem, sb *Superblock) error {
	var entries [DirEntriesPerCluster]DirEntry
	for i := range entries {
		entries[i].Clear()
	}
	entries[0].SetName(".")
	entries[0].Ino = InodeRoot
	entries[1].SetName("..")
	entries[1].Ino = InodeRoot
	var buf [ClusterSize]byte
	encode.EncodeDirCluster(&entries, &buf)
	return fs.Dev.WriteCluster(sb.DZoneStart, &buf)
}

// fillBitmap clears the bit of data cluster 0 and raises the bit of every
// other data cluster. With zero set, the free clusters' contents are zeroed
// as well.
func fillBitmap(fs *FileSystem, sb *Superblock, zero bool) error {
	var zeros [ClusterSize]byte
	for blk := uint32(0); blk < sb.FCTSize; blk++ {
		if err := fs.Meta.LoadBitmapBlock(blk); err != nil {
			return err
		}
		bitmap, err := fs.Meta.BitmapBlock()
		if err != nil {
			return err
		}
		*bitmap = [BlockSize]byte{}
		first := blk * BitsPerBlock
		for bit := uint32(0); bit < BitsPerBlock; bit++ {
			ref := first + bit
			if ref == 0 || ref >= sb.DZoneTotal {
				continue
			}
			bitmap[bit/8] |= 0x80 >> (bit % 8)
		}
		if err := fs.Meta.StoreBitmapBlock(); err != nil {
			return err
		}
	}
	if zero {
		for ref := ClusterNo(1); uint32(ref) < sb.DZoneTotal; ref++ {
			if err := fs.Dev.WriteCluster(
				ClusterBlock(sb, ref),
				&zeros,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// selfCheck validates the freshly formatted metadata: the superblock, the
// root inode and the root directory contents, then the whole volume through
// CheckConsistency.
func selfCheck(fs *FileSystem, sb *Superblock) error {
	if err := QCheckSuperblock(sb); err != nil {
		return err
	}
	if err := QCheckDataZone(sb); err != nil {
		return err
	}
	root, err := ReadInode(fs, InodeRoot, StatusInUse)
	if err != nil {
		return err
	}
	if err := QCheckInodeInUse(sb, &root); err != nil {
		return err
	}
	if err := QCheckDirContents(fs, InodeRoot, &root); err != nil {
		return err
	}
	return CheckConsistency(fs)
}
