package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/weberc2/sofs13/pkg/types"
)

func tempImage(t *testing.T, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, file.Truncate(size))
	require.NoError(t, file.Close())
	return path
}

func TestOpenRejectsPartialBlocks(t *testing.T) {
	path := tempImage(t, 10*BlockSize+17)
	_, err := Open(path)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestBlockRoundTrip(t *testing.T) {
	path := tempImage(t, 16*BlockSize)
	dev, err := Open(path)
	require.NoError(t, err)
	defer dev.Close()
	assert.Equal(t, uint32(16), dev.Blocks())

	var out [BlockSize]byte
	for i := range out {
		out[i] = byte(i)
	}
	require.NoError(t, dev.WriteBlock(3, &out))
	var in [BlockSize]byte
	require.NoError(t, dev.ReadBlock(3, &in))
	assert.Equal(t, out, in)

	require.ErrorIs(t, dev.ReadBlock(16, &in), ErrInvalid)
	require.ErrorIs(t, dev.WriteBlock(16, &out), ErrInvalid)
}

func TestClusterRoundTrip(t *testing.T) {
	path := tempImage(t, 16*BlockSize)
	dev, err := Open(path)
	require.NoError(t, err)
	defer dev.Close()

	var out [ClusterSize]byte
	for i := range out {
		out[i] = byte(i * 7)
	}
	require.NoError(t, dev.WriteCluster(4, &out))
	var in [ClusterSize]byte
	require.NoError(t, dev.ReadCluster(4, &in))
	assert.Equal(t, out, in)

	// A cluster read is byte-identical to its four block reads.
	for i := 0; i < BlocksPerCluster; i++ {
		var blk [BlockSize]byte
		require.NoError(t, dev.ReadBlock(BlockNo(4+i), &blk))
		assert.Equal(t, out[i*BlockSize:(i+1)*BlockSize], blk[:])
	}

	// The last cluster must fit entirely.
	require.ErrorIs(t, dev.ReadCluster(13, &in), ErrInvalid)
	require.NoError(t, dev.ReadCluster(12, &in))
}

func TestUnallocatedRegionReadsZero(t *testing.T) {
	path := tempImage(t, 8*BlockSize)
	dev, err := Open(path)
	require.NoError(t, err)
	defer dev.Close()
	var in [BlockSize]byte
	require.NoError(t, dev.ReadBlock(7, &in))
	assert.Equal(t, [BlockSize]byte{}, in)
}
