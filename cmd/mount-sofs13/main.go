// Command mount-sofs13 binds a SOFS13 backing file to a mount point through
// FUSE. The core layer is single-threaded; one mutex serializes every
// callback into it.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/weberc2/sofs13/pkg/fs"
	"github.com/weberc2/sofs13/pkg/types"
)

func main() {
	app := &cli.App{
		Name:      "mount-sofs13",
		Usage:     "mount a SOFS13 backing file",
		ArgsUsage: "SUPP-FILE MOUNT-POINT",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "log every file system callback",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("backing file and mount point are required", 1)
			}
			return mount(c.Args().Get(0), c.Args().Get(1), c.Bool("debug"))
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func mount(suppFile string, mountPoint string, debug bool) error {
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	volume, err := fs.Open(suppFile)
	if err != nil {
		return err
	}
	conn, err := fuse.Mount(
		mountPoint,
		fuse.FSName("sofs13"),
		fuse.Subtype("sofs13"),
	)
	if err != nil {
		volume.Close()
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		logrus.Info("unmounting")
		fuse.Unmount(mountPoint)
	}()

	logrus.WithField("volume", suppFile).
		WithField("mountpoint", mountPoint).
		Info("serving")
	serveErr := fusefs.Serve(conn, &SOFS{volume: volume})
	conn.Close()
	if err := volume.Close(); err != nil {
		return err
	}
	return serveErr
}

// SOFS adapts an open volume to the FUSE callback interface.
type SOFS struct {
	mu     sync.Mutex
	volume *fs.FileSystem
}

func (s *SOFS) Root() (fusefs.Node, error) {
	return &Node{sofs: s, ino: types.InodeRoot}, nil
}

func (s *SOFS) Statfs(
	ctx context.Context,
	req *fuse.StatfsRequest,
	resp *fuse.StatfsResponse,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, err := fs.Statvfs(s.volume)
	if err != nil {
		return toFuseErr(err)
	}
	resp.Blocks = uint64(sb.DZoneTotal)
	resp.Bfree = uint64(sb.DZoneFree)
	resp.Bavail = uint64(sb.DZoneFree)
	resp.Files = uint64(sb.ITotal)
	resp.Ffree = uint64(sb.IFree)
	resp.Bsize = types.ClusterSize
	resp.Namelen = types.MaxName
	return nil
}

// Node is one inode exposed through FUSE. The same type serves directories,
// regular files and symlinks; FUSE dispatches on the mode returned by Attr.
type Node struct {
	sofs *SOFS
	ino  types.InodeNo
}

func (n *Node) Attr(ctx context.Context, attr *fuse.Attr) error {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	ino, err := fs.ReadInode(n.sofs.volume, n.ino, fs.StatusInUse)
	if err != nil {
		return toFuseErr(err)
	}
	fillAttr(n.ino, &ino, attr)
	return nil
}

func fillAttr(nInode types.InodeNo, ino *types.Inode, attr *fuse.Attr) {
	attr.Inode = uint64(nInode) + 1 // FUSE reserves inode 0
	attr.Mode = goMode(ino.Mode)
	attr.Size = uint64(ino.Size)
	attr.Blocks = uint64(ino.CluCount) * types.BlocksPerCluster
	attr.Nlink = uint32(ino.RefCount)
	attr.Uid = ino.Owner
	attr.Gid = ino.Group
	attr.Atime = timeOf(ino.Times.ATime)
	attr.Mtime = timeOf(ino.Times.MTime)
	attr.Ctime = timeOf(ino.Times.MTime)
	attr.BlockSize = types.ClusterSize
}

func (n *Node) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	ent, _, err := fs.GetDirEntryByName(n.sofs.volume, n.ino, name)
	if err != nil {
		return nil, toFuseErr(err)
	}
	return &Node{sofs: n.sofs, ino: ent}, nil
}

func (n *Node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	listings, err := fs.ReadDir(n.sofs.volume, n.ino)
	if err != nil {
		return nil, toFuseErr(err)
	}
	dirents := make([]fuse.Dirent, 0, len(listings))
	for _, listing := range listings {
		ino, err := fs.ReadInode(n.sofs.volume, listing.Ino, fs.StatusInUse)
		if err != nil {
			return nil, toFuseErr(err)
		}
		typ := fuse.DT_File
		switch {
		case ino.Mode.IsDir():
			typ = fuse.DT_Dir
		case ino.Mode.IsSymlink():
			typ = fuse.DT_Link
		}
		dirents = append(dirents, fuse.Dirent{
			Inode: uint64(listing.Ino) + 1,
			Type:  typ,
			Name:  listing.Name,
		})
	}
	return dirents, nil
}

// newEntry allocates an inode of type t under this directory.
func (n *Node) newEntry(
	name string,
	t types.Mode,
	perm types.Mode,
) (types.InodeNo, error) {
	nInode, err := fs.AllocInode(n.sofs.volume, t)
	if err != nil {
		return types.NullInode, err
	}
	ino, err := fs.ReadInode(n.sofs.volume, nInode, fs.StatusInUse)
	if err != nil {
		return types.NullInode, err
	}
	ino.Mode |= perm & types.ModePermMask
	if err := fs.WriteInode(
		n.sofs.volume,
		&ino,
		nInode,
		fs.StatusInUse,
	); err != nil {
		return types.NullInode, err
	}
	if err := fs.AddAttachDirEntry(
		n.sofs.volume,
		n.ino,
		name,
		nInode,
		fs.OpAdd,
	); err != nil {
		return types.NullInode, err
	}
	return nInode, nil
}

func (n *Node) Create(
	ctx context.Context,
	req *fuse.CreateRequest,
	resp *fuse.CreateResponse,
) (fusefs.Node, fusefs.Handle, error) {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	logrus.WithField("name", req.Name).Debug("create")
	nInode, err := n.newEntry(
		req.Name,
		types.ModeFile,
		types.Mode(req.Mode.Perm()),
	)
	if err != nil {
		return nil, nil, toFuseErr(err)
	}
	node := &Node{sofs: n.sofs, ino: nInode}
	return node, node, nil
}

func (n *Node) Mkdir(
	ctx context.Context,
	req *fuse.MkdirRequest,
) (fusefs.Node, error) {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	logrus.WithField("name", req.Name).Debug("mkdir")
	nInode, err := n.newEntry(
		req.Name,
		types.ModeDir,
		types.Mode(req.Mode.Perm()),
	)
	if err != nil {
		return nil, toFuseErr(err)
	}
	return &Node{sofs: n.sofs, ino: nInode}, nil
}

func (n *Node) Symlink(
	ctx context.Context,
	req *fuse.SymlinkRequest,
) (fusefs.Node, error) {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	logrus.WithField("name", req.NewName).Debug("symlink")
	nInode, err := n.newEntry(req.NewName, types.ModeSymlink, types.ModePermMask)
	if err != nil {
		return nil, toFuseErr(err)
	}
	var buf [types.ClusterSize]byte
	copy(buf[:], req.Target)
	if err := fs.WriteFileCluster(n.sofs.volume, nInode, 0, &buf); err != nil {
		return nil, toFuseErr(err)
	}
	ino, err := fs.ReadInode(n.sofs.volume, nInode, fs.StatusInUse)
	if err != nil {
		return nil, toFuseErr(err)
	}
	ino.Size = types.Byte(len(req.Target))
	if err := fs.WriteInode(
		n.sofs.volume,
		&ino,
		nInode,
		fs.StatusInUse,
	); err != nil {
		return nil, toFuseErr(err)
	}
	return &Node{sofs: n.sofs, ino: nInode}, nil
}

func (n *Node) Readlink(
	ctx context.Context,
	req *fuse.ReadlinkRequest,
) (string, error) {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	target, err := fs.ReadLink(n.sofs.volume, n.ino)
	if err != nil {
		return "", toFuseErr(err)
	}
	return target, nil
}

func (n *Node) Link(
	ctx context.Context,
	req *fuse.LinkRequest,
	old fusefs.Node,
) (fusefs.Node, error) {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	oldNode := old.(*Node)
	if err := fs.AddAttachDirEntry(
		n.sofs.volume,
		n.ino,
		req.NewName,
		oldNode.ino,
		fs.OpAdd,
	); err != nil {
		return nil, toFuseErr(err)
	}
	return &Node{sofs: n.sofs, ino: oldNode.ino}, nil
}

func (n *Node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	logrus.WithField("name", req.Name).Debug("remove")
	ent, _, err := fs.GetDirEntryByName(n.sofs.volume, n.ino, req.Name)
	if err != nil {
		return toFuseErr(err)
	}
	ino, err := fs.ReadInode(n.sofs.volume, ent, fs.StatusInUse)
	if err != nil {
		return toFuseErr(err)
	}
	if req.Dir != ino.Mode.IsDir() {
		if req.Dir {
			return toFuseErr(types.ErrNotDir)
		}
		return toFuseErr(types.ErrIsDir)
	}
	return toFuseErr(fs.RemDetachDirEntry(n.sofs.volume, n.ino, req.Name, fs.OpRem))
}

func (n *Node) Rename(
	ctx context.Context,
	req *fuse.RenameRequest,
	newDir fusefs.Node,
) error {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	dest := newDir.(*Node)
	if dest.ino == n.ino {
		return toFuseErr(fs.RenameDirEntry(
			n.sofs.volume,
			n.ino,
			req.OldName,
			req.NewName,
		))
	}
	ent, _, err := fs.GetDirEntryByName(n.sofs.volume, n.ino, req.OldName)
	if err != nil {
		return toFuseErr(err)
	}
	ino, err := fs.ReadInode(n.sofs.volume, ent, fs.StatusInUse)
	if err != nil {
		return toFuseErr(err)
	}
	if ino.Mode.IsDir() {
		if err := fs.RemDetachDirEntry(
			n.sofs.volume,
			n.ino,
			req.OldName,
			fs.OpDetach,
		); err != nil {
			return toFuseErr(err)
		}
		return toFuseErr(fs.AddAttachDirEntry(
			n.sofs.volume,
			dest.ino,
			req.NewName,
			ent,
			fs.OpAttach,
		))
	}
	if err := fs.AddAttachDirEntry(
		n.sofs.volume,
		dest.ino,
		req.NewName,
		ent,
		fs.OpAdd,
	); err != nil {
		return toFuseErr(err)
	}
	return toFuseErr(fs.RemDetachDirEntry(
		n.sofs.volume,
		n.ino,
		req.OldName,
		fs.OpDetach,
	))
}

func (n *Node) Read(
	ctx context.Context,
	req *fuse.ReadRequest,
	resp *fuse.ReadResponse,
) error {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	buf := make([]byte, req.Size)
	read, err := fs.ReadInodeData(
		n.sofs.volume,
		n.ino,
		types.Byte(req.Offset),
		buf,
	)
	if err != nil && err != io.EOF {
		return toFuseErr(err)
	}
	resp.Data = buf[:read]
	return nil
}

func (n *Node) Write(
	ctx context.Context,
	req *fuse.WriteRequest,
	resp *fuse.WriteResponse,
) error {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	written, err := fs.WriteInodeData(
		n.sofs.volume,
		n.ino,
		types.Byte(req.Offset),
		req.Data,
	)
	resp.Size = written
	if err != nil {
		return toFuseErr(err)
	}
	return nil
}

func (n *Node) Setattr(
	ctx context.Context,
	req *fuse.SetattrRequest,
	resp *fuse.SetattrResponse,
) error {
	n.sofs.mu.Lock()
	defer n.sofs.mu.Unlock()
	if req.Valid.Size() {
		if err := fs.TruncateInodeData(
			n.sofs.volume,
			n.ino,
			types.Byte(req.Size),
		); err != nil {
			return toFuseErr(err)
		}
	}
	ino, err := fs.ReadInode(n.sofs.volume, n.ino, fs.StatusInUse)
	if err != nil {
		return toFuseErr(err)
	}
	if req.Valid.Mode() {
		ino.Mode = ino.Mode&^types.ModePermMask |
			types.Mode(req.Mode.Perm())
	}
	if req.Valid.Uid() {
		ino.Owner = req.Uid
	}
	if req.Valid.Gid() {
		ino.Group = req.Gid
	}
	if err := fs.WriteInode(
		n.sofs.volume,
		&ino,
		n.ino,
		fs.StatusInUse,
	); err != nil {
		return toFuseErr(err)
	}
	fillAttr(n.ino, &ino, &resp.Attr)
	return nil
}

func (n *Node) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return nil
}

func goMode(m types.Mode) os.FileMode {
	mode := os.FileMode(m & types.ModePermMask)
	switch {
	case m.IsDir():
		mode |= os.ModeDir
	case m.IsSymlink():
		mode |= os.ModeSymlink
	}
	return mode
}

func timeOf(secs uint32) time.Time {
	return time.Unix(int64(secs), 0)
}

// toFuseErr maps a core error chain onto the POSIX errno FUSE reports.
func toFuseErr(err error) error {
	if err == nil {
		return nil
	}
	code := types.Errno(err)
	return fuse.Errno(syscall.Errno(-code))
}
