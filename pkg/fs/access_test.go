package fs

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/weberc2/sofs13/pkg/types"
)

func TestAccessGranted(t *testing.T) {
	fsys := newTestFS(t, 100, 24)
	fsys.Proc = Process{UID: 1000, GID: 1000}
	nInode, err := Create(fsys, "/f", 0o400)
	require.NoError(t, err)

	t.Run("owner", func(t *testing.T) {
		require.NoError(t, AccessGranted(fsys, nInode, PermRead))
		require.ErrorIs(t, AccessGranted(fsys, nInode, PermWrite), ErrAccess)
		require.ErrorIs(t, AccessGranted(fsys, nInode, PermExec), ErrAccess)
		require.ErrorIs(
			t,
			AccessGranted(fsys, nInode, PermRead|PermWrite),
			ErrAccess,
		)
	})

	t.Run("root", func(t *testing.T) {
		fsys.Proc = Process{UID: 0, GID: 0}
		require.NoError(t, AccessGranted(fsys, nInode, PermRead|PermWrite))
		require.ErrorIs(t, AccessGranted(fsys, nInode, PermExec), ErrAccess)
	})

	t.Run("group and other", func(t *testing.T) {
		ino, err := ReadInode(fsys, nInode, StatusInUse)
		require.NoError(t, err)
		ino.Mode = ino.Mode&^ModePermMask | ModeReadUser | ModeWriteGroup |
			ModeExecOther
		require.NoError(t, WriteInode(fsys, &ino, nInode, StatusInUse))

		fsys.Proc = Process{UID: 2000, GID: 1000} // group match
		require.NoError(t, AccessGranted(fsys, nInode, PermWrite))
		require.ErrorIs(t, AccessGranted(fsys, nInode, PermRead), ErrAccess)

		fsys.Proc = Process{UID: 2000, GID: 2000} // other
		require.NoError(t, AccessGranted(fsys, nInode, PermExec))
		require.ErrorIs(t, AccessGranted(fsys, nInode, PermWrite), ErrAccess)
	})

	t.Run("bad mask", func(t *testing.T) {
		require.ErrorIs(t, AccessGranted(fsys, nInode, 0), ErrInvalid)
		require.ErrorIs(t, AccessGranted(fsys, nInode, 0x8), ErrInvalid)
	})
}

func TestWriteDeniedDirectory(t *testing.T) {
	fsys := newTestFS(t, 100, 24)
	fsys.Proc = Process{UID: 1000, GID: 1000}
	nDir, err := MkDir(fsys, "/locked", 0o555)
	require.NoError(t, err)

	err = AddAttachDirEntry(fsys, nDir, "f", InodeRoot, OpAdd)
	require.ErrorIs(t, err, ErrWriteDenied)
}
