// Command v6fs makes and works on V6 file system images.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dvdphobia/unix-v6-sub000/bcache"
	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/dvdphobia/unix-v6-sub000/config"
	"github.com/dvdphobia/unix-v6-sub000/debug"
	"github.com/dvdphobia/unix-v6-sub000/fs"
	"github.com/dvdphobia/unix-v6-sub000/mkfs"
	"github.com/urfave/cli/v2"
)

func main() {
	log.SetFlags(0)

	app := cli.App{
		Name:        "v6fs",
		Description: "Make, inspect and change V6 file system images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML configuration file",
			},
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "image file, overriding the configuration",
			},
			&cli.BoolFlag{
				Name:  "readonly",
				Usage: "mount the image read-only",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "trace buffer cache traffic",
			},
		},
		Before: func(ctx *cli.Context) error {
			bcache.Debug = ctx.Bool("verbose")
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:        "mkfs",
				Description: "Make an empty volume, optionally filled from a prototype",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "size",
						Usage: "volume size in blocks",
						Value: 4000,
					},
					&cli.IntFlag{
						Name:  "isize",
						Usage: "blocks of inodes (0 picks one from the size)",
					},
					&cli.StringFlag{
						Name:  "proto",
						Usage: "YAML prototype describing the size and tree",
					},
				},
				Action: makeVolume,
			},
			{
				Name:        "ls",
				Description: "List a directory",
				ArgsUsage:   "[path]",
				Action: withFS(func(fsys *fs.FileSystem, u *fs.User, ctx *cli.Context) error {
					dir := ctx.Args().First()
					if dir == "" {
						dir = "/"
					}
					entries, err := fsys.ReadDir(u, dir)
					if err != nil {
						return fmt.Errorf("listing `%s`: %w", dir, err)
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
					for _, de := range entries {
						name := de.String()
						st, err := fsys.Stat(u, dir+"/"+name)
						if err != nil {
							return fmt.Errorf("stating `%s`: %w", name, err)
						}
						fmt.Fprintf(w, "%5d\t%s\t%d\t%d\t%d\t%d\t%s\n",
							st.Ino, modeString(st.Mode), st.Nlink, st.Uid, st.Gid, st.Size, name)
					}
					return w.Flush()
				}),
			},
			{
				Name:        "cat",
				Description: "Copy a file to standard output",
				ArgsUsage:   "path",
				Action: withFS(func(fsys *fs.FileSystem, u *fs.User, ctx *cli.Context) error {
					name, err := arg(ctx, 0)
					if err != nil {
						return err
					}
					file, err := fsys.Open(u, name, fs.FREAD)
					if err != nil {
						return fmt.Errorf("opening `%s`: %w", name, err)
					}
					defer file.Close()
					_, err = io.Copy(os.Stdout, file)
					return err
				}),
			},
			{
				Name:        "put",
				Description: "Copy a host file into the volume",
				ArgsUsage:   "host-file path",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "octal permissions of a new file",
						Value: "0644",
					},
				},
				Action: withFS(func(fsys *fs.FileSystem, u *fs.User, ctx *cli.Context) error {
					host, err := arg(ctx, 0)
					if err != nil {
						return err
					}
					name, err := arg(ctx, 1)
					if err != nil {
						return err
					}
					perm, err := strconv.ParseUint(ctx.String("mode"), 8, 16)
					if err != nil {
						return fmt.Errorf("parsing mode: %w", err)
					}
					src, err := os.Open(host)
					if err != nil {
						return err
					}
					defer src.Close()
					file, err := fsys.Creat(u, name, uint16(perm))
					if err != nil {
						return fmt.Errorf("creating `%s`: %w", name, err)
					}
					if _, err := io.Copy(file, src); err != nil {
						file.Close()
						return fmt.Errorf("writing `%s`: %w", name, err)
					}
					return file.Close()
				}),
			},
			{
				Name:        "mkdir",
				Description: "Make a directory",
				ArgsUsage:   "path",
				Action: withFS(func(fsys *fs.FileSystem, u *fs.User, ctx *cli.Context) error {
					name, err := arg(ctx, 0)
					if err != nil {
						return err
					}
					return fsys.Mkdir(u, name, 0755)
				}),
			},
			{
				Name:        "rm",
				Aliases:     []string{"unlink"},
				Description: "Remove a name",
				ArgsUsage:   "path",
				Action: withFS(func(fsys *fs.FileSystem, u *fs.User, ctx *cli.Context) error {
					name, err := arg(ctx, 0)
					if err != nil {
						return err
					}
					return fsys.Unlink(u, name)
				}),
			},
			{
				Name:        "ln",
				Description: "Give a file another name",
				ArgsUsage:   "path newpath",
				Action: withFS(func(fsys *fs.FileSystem, u *fs.User, ctx *cli.Context) error {
					old, err := arg(ctx, 0)
					if err != nil {
						return err
					}
					name, err := arg(ctx, 1)
					if err != nil {
						return err
					}
					return fsys.Link(u, old, name)
				}),
			},
			{
				Name:        "stat",
				Description: "Show the inode of a file",
				ArgsUsage:   "path",
				Action: withFS(func(fsys *fs.FileSystem, u *fs.User, ctx *cli.Context) error {
					name, err := arg(ctx, 0)
					if err != nil {
						return err
					}
					st, err := fsys.Stat(u, name)
					if err != nil {
						return fmt.Errorf("stating `%s`: %w", name, err)
					}
					fmt.Printf("dev %s ino %d mode %06o nlink %d uid %d gid %d size %d\n",
						st.Dev, st.Ino, st.Mode, st.Nlink, st.Uid, st.Gid, st.Size)
					fmt.Printf("addr %v\natime %d mtime %d\n", st.Addr, st.Atime, st.Mtime)
					return nil
				}),
			},
			{
				Name:        "df",
				Description: "Count the free blocks and inodes",
				Action: withFS(func(fsys *fs.FileSystem, u *fs.User, ctx *cli.Context) error {
					st, err := fsys.Statfs(fsys.Rootdev())
					if err != nil {
						return err
					}
					fmt.Printf("%d blocks, %d free\n", st.Fsize, st.Free)
					fmt.Printf("%d inodes, %d free\n", st.Inodes, st.Ifree)
					return nil
				}),
			},
			{
				Name:        "dump",
				Description: "Print a block of the volume",
				ArgsUsage:   "block",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "type",
						Usage: "raw, super, inode, dir or free (guessed from the layout if unset)",
					},
				},
				Action: withFS(func(fsys *fs.FileSystem, u *fs.User, ctx *cli.Context) error {
					s, err := arg(ctx, 0)
					if err != nil {
						return err
					}
					bno, err := strconv.Atoi(s)
					if err != nil {
						return fmt.Errorf("parsing block number: %w", err)
					}
					btype, ok := blockTypes[ctx.String("type")]
					if !ok {
						return fmt.Errorf("unknown block type `%s`", ctx.String("type"))
					}
					bp, err := fsys.ReadBlock(fsys.Rootdev(), bno)
					if err != nil {
						return fmt.Errorf("reading block %d: %w", bno, err)
					}
					if ctx.String("type") == "" {
						sbuf, err := fsys.ReadBlock(fsys.Rootdev(), common.SUPERB)
						if err != nil {
							return err
						}
						var sb common.Filsys
						common.DecodeFilsys(sbuf.Addr, &sb)
						btype = debug.Classify(&sb, bno)
					}
					debug.PrintBlock(os.Stdout, bp, btype)
					return nil
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var blockTypes = map[string]debug.BlockType{
	"":      debug.RAW_BLOCK,
	"raw":   debug.RAW_BLOCK,
	"super": debug.SUPER_BLOCK,
	"inode": debug.INODE_BLOCK,
	"dir":   debug.DIRECTORY_BLOCK,
	"free":  debug.FREE_BLOCK,
}

func arg(ctx *cli.Context, i int) (string, error) {
	if ctx.Args().Len() <= i {
		return "", fmt.Errorf("%s: missing argument %d (%s)", ctx.Command.Name, i+1, ctx.Command.ArgsUsage)
	}
	return ctx.Args().Get(i), nil
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet("image") {
		cfg.Image = ctx.String("image")
	}
	if ctx.IsSet("readonly") {
		cfg.ReadOnly = ctx.Bool("readonly")
	}
	return cfg, nil
}

// withFS mounts the configured image for the length of one command, as the
// configured user.
func withFS(f func(*fs.FileSystem, *fs.User, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		fsys, err := fs.OpenImage(cfg)
		if err != nil {
			return fmt.Errorf("mounting `%s`: %w", cfg.Image, err)
		}
		u := fsys.NewUser(cfg.UID, cfg.GID)
		err = f(fsys, u, ctx)
		fsys.Logout(u)
		if serr := fsys.Shutdown(); serr != nil && err == nil {
			err = fmt.Errorf("unmounting `%s`: %w", cfg.Image, serr)
		}
		return err
	}
}

func makeVolume(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	p := mkfs.Params{Size: ctx.Int("size"), Isize: ctx.Int("isize")}
	var proto *mkfs.Proto
	if name := ctx.String("proto"); name != "" {
		if proto, err = mkfs.LoadProto(name); err != nil {
			return err
		}
		p = proto.Params()
	}

	out, err := os.OpenFile(cfg.Image, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := mkfs.Format(out, p); err != nil {
		out.Close()
		return fmt.Errorf("formatting `%s`: %w", cfg.Image, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	if proto == nil {
		return nil
	}

	cfg.ReadOnly = false
	fsys, err := fs.OpenImage(cfg)
	if err != nil {
		return fmt.Errorf("mounting `%s`: %w", cfg.Image, err)
	}
	u := fsys.NewUser(0, 0)
	err = fsys.Populate(u, "/", proto.Root)
	fsys.Logout(u)
	if serr := fsys.Shutdown(); serr != nil && err == nil {
		err = serr
	}
	return err
}

// modeString renders a mode as ls -l does.
func modeString(mode uint16) string {
	b := []byte("-rwxrwxrwx")
	switch mode & common.IFMT {
	case common.IFDIR:
		b[0] = 'd'
	case common.IFCHR:
		b[0] = 'c'
	case common.IFBLK:
		b[0] = 'b'
	}
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) == 0 {
			b[i+1] = '-'
		}
	}
	if mode&common.ISUID != 0 {
		b[3] = 's'
	}
	if mode&common.ISGID != 0 {
		b[6] = 's'
	}
	if mode&common.ISVTX != 0 {
		b[9] = 't'
	}
	return string(b)
}
