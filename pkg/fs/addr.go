package fs

import (
	"fmt"

	. "github.com/weberc2/sofs13/pkg/types"
)

// Pure address arithmetic over the volume geometry. Every conversion checks
// its argument against the superblock and fails with ErrInvalid out of range.

// InodeTablePos converts an inode number into the logical block of the inode
// table holding it and the offset within that block.
func InodeTablePos(sb *Superblock, nInode InodeNo) (uint32, uint32, error) {
	if uint32(nInode) >= sb.ITotal {
		return 0, 0, fmt.Errorf(
			"locating inode `%d` in a table of `%d`: %w",
			nInode,
			sb.ITotal,
			ErrInvalid,
		)
	}
	return uint32(nInode) / InodesPerBlock, uint32(nInode) % InodesPerBlock, nil
}

// MapTablePos converts a data cluster reference into the logical block of the
// cluster-to-inode map holding its entry and the slot within that block.
func MapTablePos(sb *Superblock, ref ClusterNo) (uint32, uint32, error) {
	if uint32(ref) >= sb.DZoneTotal {
		return 0, 0, fmt.Errorf(
			"locating map entry for cluster `%d` of `%d`: %w",
			ref,
			sb.DZoneTotal,
			ErrInvalid,
		)
	}
	return uint32(ref) / RefsPerBlock, uint32(ref) % RefsPerBlock, nil
}

// BitmapPos converts a data cluster reference into the logical bitmap block,
// the byte offset within the block, and the bit offset within the byte
// (MSB first).
func BitmapPos(sb *Superblock, ref ClusterNo) (uint32, uint32, uint32, error) {
	if uint32(ref) >= sb.DZoneTotal {
		return 0, 0, 0, fmt.Errorf(
			"locating bitmap bit for cluster `%d` of `%d`: %w",
			ref,
			sb.DZoneTotal,
			ErrInvalid,
		)
	}
	return uint32(ref) / BitsPerBlock,
		(uint32(ref) % BitsPerBlock) / 8,
		uint32(ref) % 8,
		nil
}

// BitmapRef inverts BitmapPos.
func BitmapRef(
	sb *Superblock,
	nBlk uint32,
	byteOff uint32,
	bitOff uint32,
) (ClusterNo, error) {
	if byteOff >= BlockSize || bitOff >= 8 {
		return NullCluster, fmt.Errorf(
			"converting bitmap position (`%d`, `%d`, `%d`): %w",
			nBlk,
			byteOff,
			bitOff,
			ErrInvalid,
		)
	}
	ref := ClusterNo(nBlk*BitsPerBlock + byteOff*8 + bitOff)
	if uint32(ref) >= sb.DZoneTotal {
		return NullCluster, fmt.Errorf(
			"converting bitmap position (`%d`, `%d`, `%d`): cluster `%d` out "+
				"of `%d`: %w",
			nBlk,
			byteOff,
			bitOff,
			ref,
			sb.DZoneTotal,
			ErrInvalid,
		)
	}
	return ref, nil
}

// FilePos converts a byte position within the data continuum of a file into
// the index of the cluster reference list and the offset within the cluster.
func FilePos(p Byte) (uint32, Byte, error) {
	if p >= MaxFileSize {
		return 0, 0, fmt.Errorf(
			"locating file byte `%d` beyond the maximum file size: %w",
			p,
			ErrInvalid,
		)
	}
	return uint32(p / ClusterSize), p % ClusterSize, nil
}

// ClusterBlock converts a logical data cluster number to the physical number
// of its first block.
func ClusterBlock(sb *Superblock, c ClusterNo) BlockNo {
	return sb.DZoneStart + BlockNo(c)*BlocksPerCluster
}
