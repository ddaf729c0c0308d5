package vaultcli

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/services/storage"
	"github.com/bsv-blockchain/blockvault/services/storage/httpimpl"
	"github.com/bsv-blockchain/blockvault/stores/blocks"
	"github.com/bsv-blockchain/blockvault/stores/cache"
	"github.com/bsv-blockchain/blockvault/stores/locks"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/bsv-blockchain/blockvault/util/health"
	"github.com/bsv-blockchain/blockvault/util/servicemanager"
	"github.com/urfave/cli/v2"
)

func saveCommand() *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "store a file, - reads stdin",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "application", Usage: "application code", Required: true},
			&cli.StringFlag{Name: "code-key", Usage: "key of the file in the application"},
			&cli.StringFlag{Name: "filename", Usage: "original filename, defaults to the base name of path"},
			&cli.StringFlag{Name: "title"},
		},
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return errors.NewInvalidArgumentError("missing path")
			}

			f, cleanup, err := openPayload(c, path)
			if err != nil {
				return err
			}

			defer cleanup()

			opts := []storage.SaveOption{storage.WithTitle(c.String("title"))}

			filename := c.String("filename")
			if filename == "" && path != "-" {
				filename = filepath.Base(path)
			}

			opts = append(opts, storage.WithFilename(filename))

			return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
				file, err := s.Save(c.Context, blocks.Stream{ReadSeeker: f}, c.String("application"), c.String("code-key"), opts...)
				if err != nil {
					return err
				}

				return printJSON(c, file)
			})
		},
	}
}

// openPayload opens path, or spools stdin to a temporary file when path is -.
func openPayload(c *cli.Context, path string) (*os.File, func(), error) {
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, errors.NewInvalidArgumentError("cannot open %s", path, err)
		}

		return f, func() { _ = f.Close() }, nil
	}

	tmp, err := os.CreateTemp("", "blockvault-stdin-*")
	if err != nil {
		return nil, nil, errors.NewStorageError("failed to create spool file", err)
	}

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	if _, err = io.Copy(tmp, c.App.Reader); err != nil {
		cleanup()
		return nil, nil, errors.NewStorageError("failed to read stdin", err)
	}

	return tmp, cleanup, nil
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "write the content of a file, by id or key",
		ArgsUsage: "<ref>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write to this path instead of stdout"},
			&cli.BoolFlag{Name: "info", Usage: "print the file record instead of its content"},
		},
		Action: func(c *cli.Context) error {
			ref := c.Args().First()

			return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
				file, f, err := s.Read(c.Context, ref)
				if err != nil {
					return err
				}

				defer f.Close()

				if c.Bool("info") {
					return printJSON(c, file)
				}

				out := c.App.Writer

				if output := c.String("output"); output != "" {
					w, err := os.Create(output)
					if err != nil {
						return errors.NewStorageError("cannot create %s", output, err)
					}

					defer w.Close()

					out = w
				} else if out == os.Stdout && isTerminal(os.Stdout) && !strings.HasPrefix(file.Mimetype, "text/") {
					return errors.NewInvalidArgumentError("refusing to write %s content to a terminal, use --output", file.Mimetype)
				}

				_, err = io.Copy(out, f)

				return err
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete files by id",
		ArgsUsage: "<id>...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.NewInvalidArgumentError("missing file id")
			}

			ids := make([]int64, 0, c.NArg())

			for _, arg := range c.Args().Slice() {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return errors.NewInvalidArgumentError("invalid file id %q", arg, err)
				}

				ids = append(ids, id)
			}

			return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
				deleted, err := s.Delete(c.Context, ids...)
				if err != nil {
					return err
				}

				return printJSON(c, map[string]bool{"deleted": deleted})
			})
		},
	}
}

func lockCommand() *cli.Command {
	return &cli.Command{
		Name:      "lock",
		Usage:     "run a command while holding a lock",
		ArgsUsage: "<name> <command> [args...]",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Usage: "give up after this long, 0 waits forever"},
			&cli.BoolFlag{Name: "clear-on-timeout", Usage: "clear the lock when the timeout elapses and take it"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return errors.NewInvalidArgumentError("usage: lock <name> <command> [args...]")
			}

			name := c.Args().First()

			var opts []locks.LockOption

			if c.IsSet("timeout") {
				if c.Duration("timeout") > 0 {
					opts = append(opts, locks.WithTimeout(c.Duration("timeout")))
				} else {
					opts = append(opts, locks.WithNoTimeout())
				}
			}

			if c.Bool("clear-on-timeout") {
				opts = append(opts, locks.WithDeleteLockOnTimeout())
			}

			return withStorage(c, func(logger ulogger.Logger, s *storage.Storage) error {
				if err := s.Lock(c.Context, name, opts...); err != nil {
					return err
				}

				defer func() {
					if _, err := s.Unlock(name); err != nil {
						logger.Errorf("[CLI][Lock] failed to release %q: %v", name, err)
					}
				}()

				args := c.Args().Slice()[1:]

				cmd := exec.CommandContext(c.Context, args[0], args[1:]...) // nolint:gosec
				cmd.Stdin = c.App.Reader
				cmd.Stdout = c.App.Writer
				cmd.Stderr = c.App.ErrWriter

				return cmd.Run()
			})
		},
	}
}

func unlockCommand() *cli.Command {
	return &cli.Command{
		Name:      "unlock",
		Usage:     "release a lock held by anyone",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return errors.NewInvalidArgumentError("missing lock name")
			}

			return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
				released, err := s.Unlock(name)
				if err != nil {
					return err
				}

				return printJSON(c, map[string]bool{"released": released})
			})
		},
	}
}

func reapCommand() *cli.Command {
	return &cli.Command{
		Name:  "reap",
		Usage: "reclaim locks of dead processes",
		Action: func(c *cli.Context) error {
			return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
				report, err := s.Reap(c.Context)
				if err != nil {
					return err
				}

				return printJSON(c, report)
			})
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "remove blocks no file uses and block files the metadata does not know",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "grace", Usage: "only consider blocks older than this, defaults to storage_sweepGrace"},
			&cli.BoolFlag{Name: "dry-run", Usage: "report without removing anything"},
		},
		Action: func(c *cli.Context) error {
			return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
				grace := c.Duration("grace")
				if !c.IsSet("grace") {
					grace = s.Settings().Storage.SweepGrace
				}

				report, err := s.Sweep(c.Context, grace, c.Bool("dry-run"))
				if err != nil {
					return err
				}

				return printJSON(c, report)
			})
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "read and write string cache entries",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				ArgsUsage: "<key>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "expire", Usage: "treat entries older than this as missing"},
				},
				Action: func(c *cli.Context) error {
					return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
						var opts []cache.GetOption
						if c.IsSet("expire") {
							opts = append(opts, cache.WithExpire(c.Duration("expire")))
						}

						var value string

						found, err := s.Cache().Get(c.Context, c.Args().First(), &value, opts...)
						if err != nil {
							return err
						}

						if !found {
							return errors.NewNotFoundError("cache entry %q not found", c.Args().First())
						}

						_, err = io.WriteString(c.App.Writer, value+"\n")

						return err
					})
				},
			},
			{
				Name:      "put",
				ArgsUsage: "<key> <value>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return errors.NewInvalidArgumentError("usage: cache put <key> <value>")
					}

					return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
						return s.Cache().Put(c.Context, c.Args().Get(0), c.Args().Get(1))
					})
				},
			},
			{
				Name:      "remove",
				ArgsUsage: "<key>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "children", Usage: "remove every entry of the reference name of key"},
				},
				Action: func(c *cli.Context) error {
					return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
						if c.Bool("children") {
							removed, err := s.Cache().RemoveChildren(c.Context, c.Args().First())
							if err != nil {
								return err
							}

							return printJSON(c, map[string]int{"removed": removed})
						}

						removed, err := s.Cache().Remove(c.Context, c.Args().First())
						if err != nil {
							return err
						}

						return printJSON(c, map[string]bool{"removed": removed})
					})
				},
			},
			{
				Name:      "refs",
				Usage:     "list the keys sharing the reference name of key",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
						refs, err := s.Cache().GetReferences(c.Context, c.Args().First())
						if err != nil {
							return err
						}

						return printJSON(c, refs)
					})
				},
			},
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the storage over http until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "listen address, defaults to storage_httpListenAddress"},
		},
		Action: func(c *cli.Context) error {
			return withStorage(c, func(logger ulogger.Logger, s *storage.Storage) error {
				addr := c.String("listen")
				if addr == "" {
					addr = s.Settings().Storage.HTTPListenAddress
				}

				sm := servicemanager.NewServiceManager(c.Context, logger)

				if err := sm.AddService("HTTP", httpimpl.New(logger, s, addr)); err != nil {
					sm.ForceShutdown()
					_ = sm.Wait()

					return err
				}

				if interval := s.Settings().Storage.SweepInterval; interval > 0 {
					if err := sm.AddService("Sweeper", storage.NewSweeper(logger, s, interval)); err != nil {
						sm.ForceShutdown()
						_ = sm.Wait()

						return err
					}
				}

				return sm.Wait()
			})
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "check the storage, or a running server with --address",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "address", Usage: "base url of a running server, e.g. http://localhost:8090"},
		},
		Action: func(c *cli.Context) error {
			run := func(fn func(context.Context, bool) (int, string, error)) error {
				status, msg, err := fn(c.Context, true)
				_, _ = io.WriteString(c.App.Writer, msg+"\n")

				if err != nil {
					return err
				}

				if status != 200 {
					return errors.NewServiceUnavailableError("unhealthy, status %d", status)
				}

				return nil
			}

			if address := c.String("address"); address != "" {
				return run(health.CheckHTTPServer(address, "/health"))
			}

			return withStorage(c, func(_ ulogger.Logger, s *storage.Storage) error {
				return run(s.Health)
			})
		},
	}
}
