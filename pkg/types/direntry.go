package types

// DirEntry is one fixed-size slot of a directory cluster: a null-terminated
// name of up to MaxName bytes followed by the inode number.
//
// A slot is in one of three states:
//   - in use: Name[0] != 0 and Ino != NullInode;
//   - dirty-empty (removed): Name[0] == 0 but Name[MaxName] holds what was the
//     first name byte, and Ino still references the former inode;
//   - clean-empty: the whole name is zero and Ino == NullInode.
type DirEntry struct {
	Name [MaxName + 1]byte
	Ino  InodeNo
}

func (de *DirEntry) InUse() bool {
	return de.Name[0] != 0 && de.Ino != NullInode
}

// CleanEmpty reports whether the slot is empty and clean. Checking the first
// and last name bytes distinguishes it from a dirty-empty slot, whose last
// byte keeps the removed name's first character.
func (de *DirEntry) CleanEmpty() bool {
	return de.Name[0] == 0 && de.Name[MaxName] == 0
}

// EntryName returns the name field as a string.
func (de *DirEntry) EntryName() string {
	for i, c := range de.Name {
		if c == 0 {
			return string(de.Name[:i])
		}
	}
	return string(de.Name[:])
}

// SetName stores name into the fixed field with trailing nulls. The caller
// checks the length beforehand.
func (de *DirEntry) SetName(name string) {
	de.Name = [MaxName + 1]byte{}
	copy(de.Name[:], name)
}

// MarkRemoved switches the entry to the dirty-empty state by exchanging the
// first and last characters of the name. The inode reference is kept so the
// entry remains recoverable.
func (de *DirEntry) MarkRemoved() {
	de.Name[MaxName] = de.Name[0]
	de.Name[0] = 0
}

// Clear switches the entry to the clean-empty state.
func (de *DirEntry) Clear() {
	de.Name = [MaxName + 1]byte{}
	de.Ino = NullInode
}
