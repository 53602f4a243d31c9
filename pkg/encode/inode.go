package encode

import (
	. "github.com/weberc2/sofs13/pkg/types"
)

// Inode field offsets within a 64-byte inode slot.
const (
	inoMode     = 0
	inoRefCount = 2
	inoOwner    = 4
	inoGroup    = 8
	inoSize     = 12
	inoCluCount = 16
	inoV1       = 20
	inoV2       = 24
	inoDirect   = 28
	inoSingle   = inoDirect + 4*NDirect
	inoDouble   = inoSingle + 4
)

// EncodeInode lays ino out into the slot starting at p[0]. The variant words
// are chosen by the free bit: times for an in-use inode, free-list links
// otherwise.
func EncodeInode(ino *Inode, p []byte) {
	putU16(p[inoMode:], uint16(ino.Mode))
	putU16(p[inoRefCount:], ino.RefCount)
	putU32(p[inoOwner:], ino.Owner)
	putU32(p[inoGroup:], ino.Group)
	putU32(p[inoSize:], uint32(ino.Size))
	putU32(p[inoCluCount:], ino.CluCount)
	if ino.Mode.IsFree() {
		putU32(p[inoV1:], uint32(ino.Links.Prev))
		putU32(p[inoV2:], uint32(ino.Links.Next))
	} else {
		putU32(p[inoV1:], ino.Times.ATime)
		putU32(p[inoV2:], ino.Times.MTime)
	}
	for i, ref := range ino.Direct {
		putU32(p[inoDirect+4*i:], uint32(ref))
	}
	putU32(p[inoSingle:], uint32(ino.Single))
	putU32(p[inoDouble:], uint32(ino.Double))
}

// DecodeInode populates ino from the slot starting at p[0], dispatching the
// variant words on the decoded free bit.
func DecodeInode(ino *Inode, p []byte) {
	ino.Mode = Mode(getU16(p[inoMode:]))
	ino.RefCount = getU16(p[inoRefCount:])
	ino.Owner = getU32(p[inoOwner:])
	ino.Group = getU32(p[inoGroup:])
	ino.Size = Byte(getU32(p[inoSize:]))
	ino.CluCount = getU32(p[inoCluCount:])
	ino.Times = TimePair{}
	ino.Links = LinkPair{}
	if ino.Mode.IsFree() {
		ino.Links.Prev = InodeNo(getU32(p[inoV1:]))
		ino.Links.Next = InodeNo(getU32(p[inoV2:]))
	} else {
		ino.Times.ATime = getU32(p[inoV1:])
		ino.Times.MTime = getU32(p[inoV2:])
	}
	for i := range ino.Direct {
		ino.Direct[i] = ClusterNo(getU32(p[inoDirect+4*i:]))
	}
	ino.Single = ClusterNo(getU32(p[inoSingle:]))
	ino.Double = ClusterNo(getU32(p[inoDouble:]))
}

// EncodeInodeBlock lays a whole inode table block out into p.
func EncodeInodeBlock(inodes *[InodesPerBlock]Inode, p *[BlockSize]byte) {
	for i := range inodes {
		EncodeInode(&inodes[i], p[i*InodeSize:])
	}
}

// DecodeInodeBlock populates a whole inode table block from p.
func DecodeInodeBlock(inodes *[InodesPerBlock]Inode, p *[BlockSize]byte) {
	for i := range inodes {
		DecodeInode(&inodes[i], p[i*InodeSize:])
	}
}
