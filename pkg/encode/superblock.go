// Package encode implements the little-endian on-disk layout of every
// metadata structure.
package encode

import (
	"encoding/binary"

	. "github.com/weberc2/sofs13/pkg/types"
)

func putU32(p []byte, u uint32) { binary.LittleEndian.PutUint32(p, u) }
func getU32(p []byte) uint32    { return binary.LittleEndian.Uint32(p) }

func putU16(p []byte, u uint16) { binary.LittleEndian.PutUint16(p, u) }
func getU16(p []byte) uint16    { return binary.LittleEndian.Uint16(p) }

// Superblock field offsets within block 0.
const (
	sbMagic       = 0
	sbVersion     = 4
	sbName        = 8
	sbNTotal      = sbName + VolumeNameSize
	sbMStat       = sbNTotal + 4
	sbITableStart = sbMStat + 4
	sbITableSize  = sbITableStart + 4
	sbITotal      = sbITableSize + 4
	sbIFree       = sbITotal + 4
	sbIHead       = sbIFree + 4
	sbITail       = sbIHead + 4
	sbCIMapStart  = sbITail + 4
	sbCIMapSize   = sbCIMapStart + 4
	sbRetrieve    = sbCIMapSize + 4
	sbInsert      = sbRetrieve + 4 + 4*DZoneCacheSize
	sbFCTStart    = sbInsert + 4 + 4*DZoneCacheSize
	sbFCTSize     = sbFCTStart + 4
	sbFCTPos      = sbFCTSize + 4
	sbDZoneStart  = sbFCTPos + 4
	sbDZoneTotal  = sbDZoneStart + 4
	sbDZoneFree   = sbDZoneTotal + 4
	sbReserved    = sbDZoneFree + 4
)

// EncodeSuperblock lays sb out into p. The reserved tail bytes of p are left
// untouched; the formatter fills them explicitly.
func EncodeSuperblock(sb *Superblock, p *[BlockSize]byte) {
	putU32(p[sbMagic:], sb.Magic)
	putU32(p[sbVersion:], sb.Version)
	copy(p[sbName:sbName+VolumeNameSize], sb.Name[:])
	putU32(p[sbNTotal:], sb.NTotal)
	putU32(p[sbMStat:], sb.MStat)
	putU32(p[sbITableStart:], uint32(sb.ITableStart))
	putU32(p[sbITableSize:], sb.ITableSize)
	putU32(p[sbITotal:], sb.ITotal)
	putU32(p[sbIFree:], sb.IFree)
	putU32(p[sbIHead:], uint32(sb.IHead))
	putU32(p[sbITail:], uint32(sb.ITail))
	putU32(p[sbCIMapStart:], uint32(sb.CIMapStart))
	putU32(p[sbCIMapSize:], sb.CIMapSize)
	encodeRefCache(&sb.Retrieve, p[sbRetrieve:])
	encodeRefCache(&sb.Insert, p[sbInsert:])
	putU32(p[sbFCTStart:], uint32(sb.FCTStart))
	putU32(p[sbFCTSize:], sb.FCTSize)
	putU32(p[sbFCTPos:], sb.FCTPos)
	putU32(p[sbDZoneStart:], uint32(sb.DZoneStart))
	putU32(p[sbDZoneTotal:], sb.DZoneTotal)
	putU32(p[sbDZoneFree:], sb.DZoneFree)
}

// DecodeSuperblock populates sb from p. Magic and version are decoded, not
// validated; the consistency checks own that judgement.
func DecodeSuperblock(sb *Superblock, p *[BlockSize]byte) {
	sb.Magic = getU32(p[sbMagic:])
	sb.Version = getU32(p[sbVersion:])
	copy(sb.Name[:], p[sbName:sbName+VolumeNameSize])
	sb.NTotal = getU32(p[sbNTotal:])
	sb.MStat = getU32(p[sbMStat:])
	sb.ITableStart = BlockNo(getU32(p[sbITableStart:]))
	sb.ITableSize = getU32(p[sbITableSize:])
	sb.ITotal = getU32(p[sbITotal:])
	sb.IFree = getU32(p[sbIFree:])
	sb.IHead = InodeNo(getU32(p[sbIHead:]))
	sb.ITail = InodeNo(getU32(p[sbITail:]))
	sb.CIMapStart = BlockNo(getU32(p[sbCIMapStart:]))
	sb.CIMapSize = getU32(p[sbCIMapSize:])
	decodeRefCache(&sb.Retrieve, p[sbRetrieve:])
	decodeRefCache(&sb.Insert, p[sbInsert:])
	sb.FCTStart = BlockNo(getU32(p[sbFCTStart:]))
	sb.FCTSize = getU32(p[sbFCTSize:])
	sb.FCTPos = getU32(p[sbFCTPos:])
	sb.DZoneStart = BlockNo(getU32(p[sbDZoneStart:]))
	sb.DZoneTotal = getU32(p[sbDZoneTotal:])
	sb.DZoneFree = getU32(p[sbDZoneFree:])
}

// FillReserved writes the format-time filler into the reserved tail of an
// encoded superblock.
func FillReserved(p *[BlockSize]byte) {
	for i := sbReserved; i < BlockSize; i++ {
		p[i] = 0xEE
	}
}

func encodeRefCache(c *RefCache, p []byte) {
	putU32(p, c.Idx)
	for i, ref := range c.Refs {
		putU32(p[4+4*i:], uint32(ref))
	}
}

func decodeRefCache(c *RefCache, p []byte) {
	c.Idx = getU32(p)
	for i := range c.Refs {
		c.Refs[i] = ClusterNo(getU32(p[4+4*i:]))
	}
}
