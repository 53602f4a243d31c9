package encode

import (
	. "github.com/weberc2/sofs13/pkg/types"
)

// EncodeRefBlock lays one cluster-to-inode map block out into p.
func EncodeRefBlock(refs *[RefsPerBlock]InodeNo, p *[BlockSize]byte) {
	for i, ref := range refs {
		putU32(p[4*i:], uint32(ref))
	}
}

// DecodeRefBlock populates one cluster-to-inode map block from p.
func DecodeRefBlock(refs *[RefsPerBlock]InodeNo, p *[BlockSize]byte) {
	for i := range refs {
		refs[i] = InodeNo(getU32(p[4*i:]))
	}
}

// EncodeRefCluster lays one cluster of cluster references (a single-indirect
// or direct reference cluster) out into p.
func EncodeRefCluster(refs *[RefsPerCluster]ClusterNo, p *[ClusterSize]byte) {
	for i, ref := range refs {
		putU32(p[4*i:], uint32(ref))
	}
}

// DecodeRefCluster populates one cluster of cluster references from p.
func DecodeRefCluster(refs *[RefsPerCluster]ClusterNo, p *[ClusterSize]byte) {
	for i := range refs {
		refs[i] = ClusterNo(getU32(p[4*i:]))
	}
}
