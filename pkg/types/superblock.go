package types

const (
	Magic   uint32 = 0x65FE
	Version uint32 = 0x2013

	// VolumeNameSize is the size of the on-disk name field; the name itself is
	// capped one byte shorter to stay null-terminated.
	VolumeNameSize = 24
	MaxVolumeName  = VolumeNameSize - 1

	// Mount status values.
	MountedClean uint32 = 0 // properly unmounted the last time it was mounted
	MountedDirty uint32 = 1

	DZoneCacheSize = 50

	// SuperblockReserved pads the superblock out to a full block. The reserved
	// bytes are written 0xEE at format time.
	SuperblockReserved = BlockSize - VolumeNameSize - 18*4 - 2*(4+4*DZoneCacheSize)
)

// RefCache is a bounded buffer of references to free data clusters resident in
// the superblock. The retrieval cache consumes from Idx upward and is empty at
// Idx == DZoneCacheSize; the insertion cache fills from zero upward and is
// empty at Idx == 0.
type RefCache struct {
	Idx  uint32
	Refs [DZoneCacheSize]ClusterNo
}

// Superblock is the file system metadata stored at physical block 0.
type Superblock struct {
	Magic   uint32
	Version uint32
	Name    [VolumeNameSize]byte
	NTotal  uint32
	MStat   uint32

	// Inode table metadata. The free inodes form a doubly-linked list rooted
	// at IHead (retrieval point) and ITail (insertion point), embedded in the
	// inode table itself.
	ITableStart BlockNo
	ITableSize  uint32
	ITotal      uint32
	IFree       uint32
	IHead       InodeNo
	ITail       InodeNo

	// Cluster-to-inode mapping table metadata.
	CIMapStart BlockNo
	CIMapSize  uint32

	// Data zone metadata.
	Retrieve   RefCache
	Insert     RefCache
	FCTStart   BlockNo
	FCTSize    uint32
	FCTPos     uint32
	DZoneStart BlockNo
	DZoneTotal uint32
	DZoneFree  uint32
}

// VolumeName returns the null-terminated name field as a string.
func (sb *Superblock) VolumeName() string {
	for i, c := range sb.Name {
		if c == 0 {
			return string(sb.Name[:i])
		}
	}
	return string(sb.Name[:])
}

// SetVolumeName stores name into the fixed field, truncating to MaxVolumeName
// bytes and null-padding the remainder.
func (sb *Superblock) SetVolumeName(name string) {
	if len(name) > MaxVolumeName {
		name = name[:MaxVolumeName]
	}
	sb.Name = [VolumeNameSize]byte{}
	copy(sb.Name[:], name)
}
