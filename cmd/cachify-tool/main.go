// Command cachify-tool is a thin operational CLI exercising a Cache's
// set/read/remove/backup/restore surface against the local-disk driver. It
// is a demo harness for local operators, not the richer validation/ergonomics
// layer a hosting application would put in front of Cache.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/nasriyasoftware/cachify"
	"github.com/nasriyasoftware/cachify/backup"
)

var (
	ok   = color.New(color.FgGreen).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
	dim  = color.New(color.FgHiBlack).SprintFunc()
)

func main() {
	app := &cli.App{
		Name:  "cachify-tool",
		Usage: "exercise a cachify.Cache from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backup-dir", Value: "./cachify-data", Usage: "base directory for the local-disk backup driver"},
		},
		Commands: []*cli.Command{
			setCommand(),
			readCommand(),
			removeCommand(),
			backupCommand(),
			restoreCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, bad("error:"), err)
		os.Exit(1)
	}
}

func newCache(c *cli.Context) (*cachify.Cache, func(), error) {
	cache, err := cachify.New(cachify.DefaultConfig())
	if err != nil {
		return nil, nil, err
	}
	cache.RegisterBackupDriver(backup.NewLocalDriver(c.String("backup-dir")))
	return cache, cache.Close, nil
}

func setCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "set a KV record",
		ArgsUsage: "KEY VALUE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "scope", Value: ""},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("usage: set KEY VALUE")
			}
			cache, closeFn, err := newCache(c)
			if err != nil {
				return err
			}
			defer closeFn()

			key, value := c.Args().Get(0), c.Args().Get(1)
			if err := cache.KV.Set(context.Background(), c.String("scope"), key, value, cachify.SetOptions{}); err != nil {
				return err
			}
			fmt.Println(ok("set"), key, "=", value)
			return nil
		},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "read a KV record",
		ArgsUsage: "KEY",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "scope", Value: ""},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("usage: read KEY")
			}
			cache, closeFn, err := newCache(c)
			if err != nil {
				return err
			}
			defer closeFn()

			key := c.Args().Get(0)
			value, found, err := cache.KV.Read(context.Background(), c.String("scope"), key, "")
			if err != nil {
				return err
			}
			if !found {
				fmt.Println(dim("miss"), key)
				return nil
			}
			fmt.Println(ok("hit"), key, "=", value)
			return nil
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "remove a KV record",
		ArgsUsage: "KEY",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "scope", Value: ""},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("usage: remove KEY")
			}
			cache, closeFn, err := newCache(c)
			if err != nil {
				return err
			}
			defer closeFn()

			removed, err := cache.KV.Remove(context.Background(), c.String("scope"), c.Args().Get(0), "")
			if err != nil {
				return err
			}
			if removed {
				fmt.Println(ok("removed"), c.Args().Get(0))
			} else {
				fmt.Println(dim("not found"), c.Args().Get(0))
			}
			return nil
		},
	}
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:      "backup",
		Usage:     "backup every KV record to the local-disk driver",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "passphrase", Usage: "encrypt the backup with this passphrase"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("usage: backup NAME")
			}
			cache, closeFn, err := newCache(c)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := cache.BackupKV(context.Background(), "local", c.String("passphrase"), c.Args().Get(0)); err != nil {
				return err
			}
			fmt.Println(ok("backup written"), c.Args().Get(0))
			return nil
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "restore KV records from the local-disk driver",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "passphrase", Usage: "decrypt the backup with this passphrase"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("usage: restore NAME")
			}
			cache, closeFn, err := newCache(c)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := cache.RestoreKV(context.Background(), "local", c.String("passphrase"), c.Args().Get(0)); err != nil {
				return err
			}
			fmt.Println(ok("restored"), c.Args().Get(0), dim(fmt.Sprintf("(%d records)", cache.KV.Size())))
			return nil
		},
	}
}
