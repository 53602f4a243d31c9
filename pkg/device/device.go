// Package device provides byte-exact block and cluster access to the backing
// file that stores the volume.
package device

import (
	"fmt"
	"os"

	. "github.com/weberc2/sofs13/pkg/types"
)

// Volume is the block/cluster I/O surface the metadata cache consumes. Block
// and cluster addresses are physical block numbers; a cluster covers
// BlocksPerCluster contiguous blocks starting at its address.
type Volume interface {
	ReadBlock(n BlockNo, p *[BlockSize]byte) error
	WriteBlock(n BlockNo, p *[BlockSize]byte) error
	ReadCluster(n BlockNo, p *[ClusterSize]byte) error
	WriteCluster(n BlockNo, p *[ClusterSize]byte) error
	Blocks() uint32
}

var _ Volume = (*Device)(nil)

// Device is a Volume over a regular backing file.
type Device struct {
	file   *os.File
	blocks uint32
}

// Open opens the backing file at path. The file size must be a whole number of
// blocks.
func Open(path string) (*Device, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening device `%s`: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("opening device `%s`: %w", path, err)
	}
	if info.Size()%BlockSize != 0 {
		file.Close()
		return nil, fmt.Errorf(
			"opening device `%s`: size `%d` is not a multiple of the block "+
				"size: %w",
			path,
			info.Size(),
			ErrInvalid,
		)
	}
	return &Device{file: file, blocks: uint32(info.Size() / BlockSize)}, nil
}

// Blocks returns the total number of blocks of the device.
func (dev *Device) Blocks() uint32 { return dev.blocks }

func (dev *Device) Close() error {
	if err := dev.file.Close(); err != nil {
		return fmt.Errorf("closing device: %w", err)
	}
	return nil
}

func (dev *Device) ReadBlock(n BlockNo, p *[BlockSize]byte) error {
	if err := dev.check(n, 1); err != nil {
		return fmt.Errorf("reading block `%d`: %w", n, err)
	}
	if _, err := dev.file.ReadAt(p[:], int64(n)*BlockSize); err != nil {
		return fmt.Errorf("reading block `%d`: %w: %v", n, ErrIO, err)
	}
	return nil
}

func (dev *Device) WriteBlock(n BlockNo, p *[BlockSize]byte) error {
	if err := dev.check(n, 1); err != nil {
		return fmt.Errorf("writing block `%d`: %w", n, err)
	}
	if _, err := dev.file.WriteAt(p[:], int64(n)*BlockSize); err != nil {
		return fmt.Errorf("writing block `%d`: %w: %v", n, ErrIO, err)
	}
	return nil
}

func (dev *Device) ReadCluster(n BlockNo, p *[ClusterSize]byte) error {
	if err := dev.check(n, BlocksPerCluster); err != nil {
		return fmt.Errorf("reading cluster at block `%d`: %w", n, err)
	}
	if _, err := dev.file.ReadAt(p[:], int64(n)*BlockSize); err != nil {
		return fmt.Errorf(
			"reading cluster at block `%d`: %w: %v",
			n,
			ErrIO,
			err,
		)
	}
	return nil
}

func (dev *Device) WriteCluster(n BlockNo, p *[ClusterSize]byte) error {
	if err := dev.check(n, BlocksPerCluster); err != nil {
		return fmt.Errorf("writing cluster at block `%d`: %w", n, err)
	}
	if _, err := dev.file.WriteAt(p[:], int64(n)*BlockSize); err != nil {
		return fmt.Errorf(
			"writing cluster at block `%d`: %w: %v",
			n,
			ErrIO,
			err,
		)
	}
	return nil
}

func (dev *Device) check(n BlockNo, span uint32) error {
	if uint32(n)+span > dev.blocks {
		return ErrInvalid
	}
	return nil
}
