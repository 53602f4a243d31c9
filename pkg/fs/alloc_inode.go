package fs

import (
	"fmt"

	. "github.com/weberc2/sofs13/pkg/types"
)

// AllocInode retrieves the head of the free inode list, initializes it as an
// in-use inode of the given type owned by the calling process, and unlinks it
// from the list. A head that is still free in the dirty state is cleaned
// first, dissociating any data clusters it retained.
func AllocInode(fs *FileSystem, t Mode) (InodeNo, error) {
	if t != ModeFile && t != ModeDir && t != ModeSymlink {
		return NullInode, fmt.Errorf(
			"allocating inode of type `%#x`: %w",
			uint16(t),
			ErrInvalid,
		)
	}
	sb, err := fs.superblock()
	if err != nil {
		return NullInode, fmt.Errorf("allocating inode: %w", err)
	}
	if sb.IFree == 0 {
		return NullInode, fmt.Errorf("allocating inode: %w", ErrNoSpace)
	}
	if err := QCheckSuperblock(sb); err != nil {
		return NullInode, fmt.Errorf("allocating inode: %w", err)
	}
	nInode := sb.IHead

	nBlk, off, err := InodeTablePos(sb, nInode)
	if err != nil {
		return NullInode, fmt.Errorf("allocating inode: %w", err)
	}
	if err := fs.Meta.LoadInodeBlock(nBlk); err != nil {
		return NullInode, fmt.Errorf("allocating inode: %w", err)
	}
	block, err := fs.Meta.InodeBlock()
	if err != nil {
		return NullInode, fmt.Errorf("allocating inode: %w", err)
	}
	if block[off].CluCount != 0 {
		// Free in the dirty state with clusters still attached.
		if err := HandleFileClusters(fs, nInode, 0, OpClean); err != nil {
			return NullInode, fmt.Errorf("allocating inode: %w", err)
		}
		if err := fs.Meta.LoadInodeBlock(nBlk); err != nil {
			return NullInode, fmt.Errorf("allocating inode: %w", err)
		}
		if block, err = fs.Meta.InodeBlock(); err != nil {
			return NullInode, fmt.Errorf("allocating inode: %w", err)
		}
	}
	next := block[off].Links.Next

	t0 := now()
	block[off] = Inode{
		Mode:     t,
		RefCount: 0,
		Owner:    fs.Proc.UID,
		Group:    fs.Proc.GID,
		Size:     0,
		CluCount: 0,
		Times:    TimePair{ATime: t0, MTime: t0},
	}
	block[off].ClearRefs()
	if err := fs.Meta.StoreInodeBlock(); err != nil {
		return NullInode, fmt.Errorf("allocating inode: %w", err)
	}

	if sb.IFree == 1 {
		sb.IHead = NullInode
		sb.ITail = NullInode
	} else {
		sb.IHead = next
		nBlk, off, err = InodeTablePos(sb, next)
		if err != nil {
			return NullInode, fmt.Errorf("allocating inode: %w", err)
		}
		if err := fs.Meta.LoadInodeBlock(nBlk); err != nil {
			return NullInode, fmt.Errorf("allocating inode: %w", err)
		}
		block, err = fs.Meta.InodeBlock()
		if err != nil {
			return NullInode, fmt.Errorf("allocating inode: %w", err)
		}
		block[off].Links.Prev = NullInode
		if err := fs.Meta.StoreInodeBlock(); err != nil {
			return NullInode, fmt.Errorf("allocating inode: %w", err)
		}
	}
	sb.IFree--
	if err := fs.Meta.StoreSuperblock(); err != nil {
		return NullInode, fmt.Errorf("allocating inode: %w", err)
	}
	return nInode, nil
}

// FreeInode marks inode nInode free in the dirty state and appends it to the
// tail of the free inode list. The inode must be in use with no directory
// entries left (refcount zero); its data clusters are retained until a later
// clean. Inode 0 can never be freed.
func FreeInode(fs *FileSystem, nInode InodeNo) error {
	if nInode == InodeRoot {
		return fmt.Errorf("freeing inode `%d`: %w", nInode, ErrInvalid)
	}
	sb, err := fs.superblock()
	if err != nil {
		return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
	}
	nBlk, off, err := InodeTablePos(sb, nInode)
	if err != nil {
		return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
	}
	if err := fs.Meta.LoadInodeBlock(nBlk); err != nil {
		return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
	}
	block, err := fs.Meta.InodeBlock()
	if err != nil {
		return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
	}
	if err := QCheckInodeInUse(sb, &block[off]); err != nil {
		return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
	}
	if block[off].RefCount != 0 {
		return fmt.Errorf(
			"freeing inode `%d` with refcount `%d`: %w",
			nInode,
			block[off].RefCount,
			ErrInodeInUseBad,
		)
	}

	block[off].Mode |= ModeFree
	block[off].Owner = 0
	block[off].Group = 0
	block[off].Times = TimePair{}
	block[off].Links = LinkPair{Prev: sb.ITail, Next: NullInode}
	if sb.IFree == 0 {
		block[off].Links.Prev = NullInode
		sb.IHead = nInode
		sb.ITail = nInode
		if err := fs.Meta.StoreInodeBlock(); err != nil {
			return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
		}
	} else {
		if err := fs.Meta.StoreInodeBlock(); err != nil {
			return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
		}
		tailBlk, tailOff, err := InodeTablePos(sb, sb.ITail)
		if err != nil {
			return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
		}
		if err := fs.Meta.LoadInodeBlock(tailBlk); err != nil {
			return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
		}
		block, err = fs.Meta.InodeBlock()
		if err != nil {
			return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
		}
		block[tailOff].Links.Next = nInode
		sb.ITail = nInode
		if err := fs.Meta.StoreInodeBlock(); err != nil {
			return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
		}
	}
	sb.IFree++
	if err := fs.Meta.StoreSuperblock(); err != nil {
		return fmt.Errorf("freeing inode `%d`: %w", nInode, err)
	}
	return nil
}

// CleanInode dissociates every data cluster still attached to a free-dirty
// inode, taking it to the free-clean state. Inode 0 can never be cleaned.
func CleanInode(fs *FileSystem, nInode InodeNo) error {
	if nInode == InodeRoot {
		return fmt.Errorf("cleaning inode `%d`: %w", nInode, ErrInvalid)
	}
	sb, err := fs.superblock()
	if err != nil {
		return fmt.Errorf("cleaning inode `%d`: %w", nInode, err)
	}
	if uint32(nInode) >= sb.ITotal {
		return fmt.Errorf("cleaning inode `%d`: %w", nInode, ErrInvalid)
	}
	if err := HandleFileClusters(fs, nInode, 0, OpClean); err != nil {
		return fmt.Errorf("cleaning inode `%d`: %w", nInode, err)
	}
	if err := fs.Meta.StoreSuperblock(); err != nil {
		return fmt.Errorf("cleaning inode `%d`: %w", nInode, err)
	}
	return nil
}
