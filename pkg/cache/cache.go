// Package cache holds the single loaded instance of each metadata structure:
// the superblock, one block each of the inode table, the cluster-to-inode map
// and the free-cluster bitmap, and one cluster each of single-indirect and
// direct references. Every slot is load-on-demand and write-back on explicit
// store, and an I/O failure leaves the slot in a sticky error state that only
// a fresh Meta clears.
package cache

import (
	"fmt"

	"github.com/weberc2/sofs13/pkg/device"
	"github.com/weberc2/sofs13/pkg/encode"
	. "github.com/weberc2/sofs13/pkg/types"
)

// slot tracks the load state shared by every cache entry. id is the loaded
// block/cluster address; sticky is the retained error once an I/O operation
// has failed.
type slot struct {
	loaded bool
	id     uint32
	sticky error
}

// hit reports whether the slot already holds id. It fails with the sticky
// error when the slot is poisoned.
func (s *slot) hit(id uint32) (bool, error) {
	if s.sticky != nil {
		return false, s.sticky
	}
	return s.loaded && s.id == id, nil
}

// fill marks the slot loaded with id after a successful read, or poisons it.
func (s *slot) fill(id uint32, err error) error {
	if err != nil {
		s.loaded = false
		s.sticky = err
		return err
	}
	s.loaded = true
	s.id = id
	return nil
}

// storable fails unless the slot holds valid contents to write back.
func (s *slot) storable() error {
	if s.sticky != nil {
		return s.sticky
	}
	if !s.loaded {
		return ErrMetaCacheBad
	}
	return nil
}

// poison retains a store failure.
func (s *slot) poison(err error) error {
	if err != nil {
		s.sticky = err
	}
	return err
}

// Meta is the object cache of an open volume. It is owned by exactly one
// file-system handle and assumes a single in-flight chain of operations.
type Meta struct {
	vol device.Volume

	sbSlot  slot
	sb      Superblock
	sbRaw   [BlockSize]byte
	inoSlot slot
	inodes  [InodesPerBlock]Inode
	mapSlot slot
	ciMap   [RefsPerBlock]InodeNo
	bmSlot  slot
	bitmap  [BlockSize]byte
	sngSlot slot
	single  [RefsPerCluster]ClusterNo
	dirSlot slot
	direct  [RefsPerCluster]ClusterNo
}

// NewMeta returns a fresh cache over vol with every slot empty.
func NewMeta(vol device.Volume) *Meta {
	return &Meta{vol: vol}
}

// LoadSuperblock brings block 0 into the superblock slot. A repeated load is
// a no-op.
func (m *Meta) LoadSuperblock() error {
	hit, err := m.sbSlot.hit(0)
	if err != nil {
		return fmt.Errorf("loading superblock: %w", err)
	}
	if hit {
		return nil
	}
	if err := m.sbSlot.fill(0, m.vol.ReadBlock(0, &m.sbRaw)); err != nil {
		return fmt.Errorf("loading superblock: %w", err)
	}
	encode.DecodeSuperblock(&m.sb, &m.sbRaw)
	return nil
}

// Superblock returns the loaded superblock contents. The view is invalidated
// by any subsequent load of the slot.
func (m *Meta) Superblock() (*Superblock, error) {
	if m.sbSlot.sticky != nil {
		return nil, m.sbSlot.sticky
	}
	if !m.sbSlot.loaded {
		return nil, ErrMetaCacheBad
	}
	return &m.sb, nil
}

// StoreSuperblock writes the superblock slot back to block 0.
func (m *Meta) StoreSuperblock() error {
	if err := m.sbSlot.storable(); err != nil {
		return fmt.Errorf("storing superblock: %w", err)
	}
	encode.EncodeSuperblock(&m.sb, &m.sbRaw)
	if err := m.sbSlot.poison(m.vol.WriteBlock(0, &m.sbRaw)); err != nil {
		return fmt.Errorf("storing superblock: %w", err)
	}
	return nil
}

// ResetSuperblockReserved writes the format-time filler into the reserved
// region of the loaded superblock block.
func (m *Meta) ResetSuperblockReserved() error {
	if err := m.sbSlot.storable(); err != nil {
		return fmt.Errorf("resetting superblock reserved area: %w", err)
	}
	encode.FillReserved(&m.sbRaw)
	return nil
}

// LoadInodeBlock brings logical block nBlk of the inode table into its slot.
func (m *Meta) LoadInodeBlock(nBlk uint32) error {
	if err := m.LoadSuperblock(); err != nil {
		return err
	}
	if nBlk >= m.sb.ITableSize {
		return fmt.Errorf("loading inode table block `%d`: %w", nBlk, ErrInvalid)
	}
	hit, err := m.inoSlot.hit(nBlk)
	if err != nil {
		return fmt.Errorf("loading inode table block `%d`: %w", nBlk, err)
	}
	if hit {
		return nil
	}
	var buf [BlockSize]byte
	err = m.vol.ReadBlock(m.sb.ITableStart+BlockNo(nBlk), &buf)
	if err = m.inoSlot.fill(nBlk, err); err != nil {
		return fmt.Errorf("loading inode table block `%d`: %w", nBlk, err)
	}
	encode.DecodeInodeBlock(&m.inodes, &buf)
	return nil
}

// InodeBlock returns the loaded inode table block.
func (m *Meta) InodeBlock() (*[InodesPerBlock]Inode, error) {
	if m.inoSlot.sticky != nil {
		return nil, m.inoSlot.sticky
	}
	if !m.inoSlot.loaded {
		return nil, ErrMetaCacheBad
	}
	return &m.inodes, nil
}

// StoreInodeBlock writes the inode table slot back to its block.
func (m *Meta) StoreInodeBlock() error {
	if err := m.inoSlot.storable(); err != nil {
		return fmt.Errorf("storing inode table block: %w", err)
	}
	var buf [BlockSize]byte
	encode.EncodeInodeBlock(&m.inodes, &buf)
	err := m.vol.WriteBlock(m.sb.ITableStart+BlockNo(m.inoSlot.id), &buf)
	if err = m.inoSlot.poison(err); err != nil {
		return fmt.Errorf("storing inode table block: %w", err)
	}
	return nil
}

// LoadMapBlock brings logical block nBlk of the cluster-to-inode map into its
// slot.
func (m *Meta) LoadMapBlock(nBlk uint32) error {
	if err := m.LoadSuperblock(); err != nil {
		return err
	}
	if nBlk >= m.sb.CIMapSize {
		return fmt.Errorf("loading map block `%d`: %w", nBlk, ErrInvalid)
	}
	hit, err := m.mapSlot.hit(nBlk)
	if err != nil {
		return fmt.Errorf("loading map block `%d`: %w", nBlk, err)
	}
	if hit {
		return nil
	}
	var buf [BlockSize]byte
	err = m.vol.ReadBlock(m.sb.CIMapStart+BlockNo(nBlk), &buf)
	if err = m.mapSlot.fill(nBlk, err); err != nil {
		return fmt.Errorf("loading map block `%d`: %w", nBlk, err)
	}
	encode.DecodeRefBlock(&m.ciMap, &buf)
	return nil
}

// MapBlock returns the loaded cluster-to-inode map block.
func (m *Meta) MapBlock() (*[RefsPerBlock]InodeNo, error) {
	if m.mapSlot.sticky != nil {
		return nil, m.mapSlot.sticky
	}
	if !m.mapSlot.loaded {
		return nil, ErrMetaCacheBad
	}
	return &m.ciMap, nil
}

// StoreMapBlock writes the cluster-to-inode map slot back to its block.
func (m *Meta) StoreMapBlock() error {
	if err := m.mapSlot.storable(); err != nil {
		return fmt.Errorf("storing map block: %w", err)
	}
	var buf [BlockSize]byte
	encode.EncodeRefBlock(&m.ciMap, &buf)
	err := m.vol.WriteBlock(m.sb.CIMapStart+BlockNo(m.mapSlot.id), &buf)
	if err = m.mapSlot.poison(err); err != nil {
		return fmt.Errorf("storing map block: %w", err)
	}
	return nil
}

// LoadBitmapBlock brings logical block nBlk of the free-cluster bitmap into
// its slot.
func (m *Meta) LoadBitmapBlock(nBlk uint32) error {
	if err := m.LoadSuperblock(); err != nil {
		return err
	}
	if nBlk >= m.sb.FCTSize {
		return fmt.Errorf("loading bitmap block `%d`: %w", nBlk, ErrInvalid)
	}
	hit, err := m.bmSlot.hit(nBlk)
	if err != nil {
		return fmt.Errorf("loading bitmap block `%d`: %w", nBlk, err)
	}
	if hit {
		return nil
	}
	err = m.vol.ReadBlock(m.sb.FCTStart+BlockNo(nBlk), &m.bitmap)
	if err = m.bmSlot.fill(nBlk, err); err != nil {
		return fmt.Errorf("loading bitmap block `%d`: %w", nBlk, err)
	}
	return nil
}

// BitmapBlock returns the loaded bitmap block.
func (m *Meta) BitmapBlock() (*[BlockSize]byte, error) {
	if m.bmSlot.sticky != nil {
		return nil, m.bmSlot.sticky
	}
	if !m.bmSlot.loaded {
		return nil, ErrMetaCacheBad
	}
	return &m.bitmap, nil
}

// StoreBitmapBlock writes the bitmap slot back to its block.
func (m *Meta) StoreBitmapBlock() error {
	if err := m.bmSlot.storable(); err != nil {
		return fmt.Errorf("storing bitmap block: %w", err)
	}
	err := m.vol.WriteBlock(m.sb.FCTStart+BlockNo(m.bmSlot.id), &m.bitmap)
	if err = m.bmSlot.poison(err); err != nil {
		return fmt.Errorf("storing bitmap block: %w", err)
	}
	return nil
}

// LoadSingleRefCluster brings the single-indirect reference cluster whose
// first physical block is nClust into its slot.
func (m *Meta) LoadSingleRefCluster(nClust BlockNo) error {
	hit, err := m.sngSlot.hit(uint32(nClust))
	if err != nil {
		return fmt.Errorf(
			"loading single indirect reference cluster at block `%d`: %w",
			nClust,
			err,
		)
	}
	if hit {
		return nil
	}
	var buf [ClusterSize]byte
	err = m.vol.ReadCluster(nClust, &buf)
	if err = m.sngSlot.fill(uint32(nClust), err); err != nil {
		return fmt.Errorf(
			"loading single indirect reference cluster at block `%d`: %w",
			nClust,
			err,
		)
	}
	encode.DecodeRefCluster(&m.single, &buf)
	return nil
}

// SingleRefCluster returns the loaded single-indirect reference cluster.
func (m *Meta) SingleRefCluster() (*[RefsPerCluster]ClusterNo, error) {
	if m.sngSlot.sticky != nil {
		return nil, m.sngSlot.sticky
	}
	if !m.sngSlot.loaded {
		return nil, ErrMetaCacheBad
	}
	return &m.single, nil
}

// StoreSingleRefCluster writes the single-indirect reference slot back.
func (m *Meta) StoreSingleRefCluster() error {
	if err := m.sngSlot.storable(); err != nil {
		return fmt.Errorf("storing single indirect reference cluster: %w", err)
	}
	var buf [ClusterSize]byte
	encode.EncodeRefCluster(&m.single, &buf)
	err := m.vol.WriteCluster(BlockNo(m.sngSlot.id), &buf)
	if err = m.sngSlot.poison(err); err != nil {
		return fmt.Errorf("storing single indirect reference cluster: %w", err)
	}
	return nil
}

// LoadDirectRefCluster brings the direct reference cluster whose first
// physical block is nClust into its slot.
func (m *Meta) LoadDirectRefCluster(nClust BlockNo) error {
	hit, err := m.dirSlot.hit(uint32(nClust))
	if err != nil {
		return fmt.Errorf(
			"loading direct reference cluster at block `%d`: %w",
			nClust,
			err,
		)
	}
	if hit {
		return nil
	}
	var buf [ClusterSize]byte
	err = m.vol.ReadCluster(nClust, &buf)
	if err = m.dirSlot.fill(uint32(nClust), err); err != nil {
		return fmt.Errorf(
			"loading direct reference cluster at block `%d`: %w",
			nClust,
			err,
		)
	}
	encode.DecodeRefCluster(&m.direct, &buf)
	return nil
}

// DirectRefCluster returns the loaded direct reference cluster.
func (m *Meta) DirectRefCluster() (*[RefsPerCluster]ClusterNo, error) {
	if m.dirSlot.sticky != nil {
		return nil, m.dirSlot.sticky
	}
	if !m.dirSlot.loaded {
		return nil, ErrMetaCacheBad
	}
	return &m.direct, nil
}

// StoreDirectRefCluster writes the direct reference slot back.
func (m *Meta) StoreDirectRefCluster() error {
	if err := m.dirSlot.storable(); err != nil {
		return fmt.Errorf("storing direct reference cluster: %w", err)
	}
	var buf [ClusterSize]byte
	encode.EncodeRefCluster(&m.direct, &buf)
	err := m.vol.WriteCluster(BlockNo(m.dirSlot.id), &buf)
	if err = m.dirSlot.poison(err); err != nil {
		return fmt.Errorf("storing direct reference cluster: %w", err)
	}
	return nil
}
