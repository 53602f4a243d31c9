package encode

import (
	. "github.com/weberc2/sofs13/pkg/types"
)

// EncodeDirCluster lays one directory cluster out into p.
func EncodeDirCluster(
	entries *[DirEntriesPerCluster]DirEntry,
	p *[ClusterSize]byte,
) {
	for i := range entries {
		slot := p[i*DirEntrySize:]
		copy(slot[:MaxName+1], entries[i].Name[:])
		putU32(slot[MaxName+1:], uint32(entries[i].Ino))
	}
}

// DecodeDirCluster populates one directory cluster from p.
func DecodeDirCluster(
	entries *[DirEntriesPerCluster]DirEntry,
	p *[ClusterSize]byte,
) {
	for i := range entries {
		slot := p[i*DirEntrySize:]
		copy(entries[i].Name[:], slot[:MaxName+1])
		entries[i].Ino = InodeNo(getU32(slot[MaxName+1:]))
	}
}
