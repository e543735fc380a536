package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dargueta/vfat32/blockdev"
	"github.com/dargueta/vfat32/fat32"
)

const defaultSectorSize = 512

func main() {
	app := cli.App{
		Usage: "Inspect and manipulate FAT32 volume images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create a fresh FAT32 image",
				ArgsUsage: "IMAGE_PATH SIZE_IN_SECTORS",
				Action:    formatImage,
			},
			{
				Name:      "ls",
				Usage:     "List a directory's contents",
				ArgsUsage: "IMAGE_PATH PATH",
				Action:    listDirectory,
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				ArgsUsage: "IMAGE_PATH PATH",
				Action:    catFile,
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory",
				ArgsUsage: "IMAGE_PATH PATH",
				Action:    makeDirectory,
			},
			{
				Name:      "rm",
				Usage:     "Remove a file or, with -r, a directory tree",
				ArgsUsage: "IMAGE_PATH PATH",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "r", Usage: "remove recursively"},
				},
				Action: removeEntry,
			},
			{
				Name:      "cp",
				Usage:     "Copy a host file into the image",
				ArgsUsage: "IMAGE_PATH HOST_SRC_PATH IMAGE_DEST_PATH",
				Action:    copyIn,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func openImage(path string) (*fat32.FileSystem, *os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	dev := blockdev.NewStreamDevice(f, defaultSectorSize)
	fs, err := fat32.Mount(dev, fat32.SystemClock{})
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return fs, f, nil
}

func formatImage(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: vfat32 format IMAGE_PATH SIZE_IN_SECTORS", 1)
	}
	path := c.Args().Get(0)
	var totalSectors uint
	if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &totalSectors); err != nil {
		return cli.Exit("SIZE_IN_SECTORS must be an integer", 1)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Truncate(int64(totalSectors) * defaultSectorSize); err != nil {
		return err
	}

	dev := blockdev.NewStreamDevice(f, defaultSectorSize)
	opts := fat32.FormatOptions{TotalSectors: totalSectors}
	return fat32.FormatVolume(dev, opts, fat32.SystemClock{})
}

func listDirectory(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: vfat32 ls IMAGE_PATH PATH", 1)
	}
	fs, f, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := fs.ListDir(c.Args().Get(1))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		kind := "-"
		if entry.IsDir() {
			kind = "d"
		}
		fmt.Printf("%s %10d %s\n", kind, entry.Metadata.Size, entry.Name)
	}
	return nil
}

func catFile(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: vfat32 cat IMAGE_PATH PATH", 1)
	}
	fs, f, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	file, err := fs.OpenFile(c.Args().Get(1), fat32.LockRead)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(os.Stdout, file)
	return err
}

func makeDirectory(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: vfat32 mkdir IMAGE_PATH PATH", 1)
	}
	fs, f, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	if err := fs.CreateDir(c.Args().Get(1)); err != nil {
		return err
	}
	dev, err := fs.IntoBlockDevice()
	if err != nil {
		return err
	}
	return dev.Sync()
}

func removeEntry(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: vfat32 rm IMAGE_PATH PATH", 1)
	}
	fs, f, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	if c.Bool("r") {
		err = fs.RemoveDirRecursively(c.Args().Get(1))
	} else {
		err = fs.Remove(c.Args().Get(1))
	}
	if err != nil {
		return err
	}
	dev, err := fs.IntoBlockDevice()
	if err != nil {
		return err
	}
	return dev.Sync()
}

func copyIn(c *cli.Context) error {
	if c.Args().Len() < 3 {
		return cli.Exit("usage: vfat32 cp IMAGE_PATH HOST_SRC_PATH IMAGE_DEST_PATH", 1)
	}
	fs, f, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	src, err := os.Open(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := fs.CreateFile(c.Args().Get(2))
	if err != nil {
		return err
	}
	defer dest.Close()

	_, err = io.Copy(dest, src)
	return err
}
