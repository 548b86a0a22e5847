// Command cryptexctl is a thin development tool for inspecting a cryptexdb
// database folder from the outside: read a key's committed value, or walk an
// index in ascending order. It is not process configuration for an embedding
// application — callers wire cryptexdb directly via pkg/cryptexdb for that.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/iamNilotpal/cryptexdb/pkg/cryptexdb"
	"github.com/iamNilotpal/cryptexdb/pkg/options"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "read":
		return runRead(rest, stdout, stderr)
	case "ascend":
		return runAscend(rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "cryptexctl: unknown command %q\n", cmd)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "usage: cryptexctl <read|ascend> --folder DIR --index N --keysize N [flags]")
	fmt.Fprintln(w, "  read   --key HEX [--offset N] [--length N]")
	fmt.Fprintln(w, "  ascend [--limit N]")
}

func openFlags(fs *flag.FlagSet) (folder *string, index *int, keySize *int) {
	folder = fs.String("folder", "", "database folder to open")
	index = fs.Int("index", -1, "index id to operate against")
	keySize = fs.Int("keysize", 0, "fixed key width of the index, in bytes")
	return
}

func runRead(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	fs.SetOutput(stderr)
	folder, index, keySize := openFlags(fs)
	keyHex := fs.String("key", "", "key to read, hex-encoded")
	offset := fs.Uint32("offset", 0, "byte offset within the value")
	length := fs.Uint32("length", 0, "number of bytes to read")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	key, err := hex.DecodeString(*keyHex)
	if err != nil {
		fmt.Fprintf(stderr, "cryptexctl: invalid --key: %v\n", err)
		return 2
	}

	db, err := open(*folder, *index, *keySize)
	if err != nil {
		fmt.Fprintf(stderr, "cryptexctl: %v\n", err)
		return 1
	}
	defer db.Close()

	value, err := db.Read(byte(*index), key, *offset, *length)
	if err != nil {
		fmt.Fprintf(stderr, "cryptexctl: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, hex.EncodeToString(value))
	return 0
}

func runAscend(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("ascend", flag.ContinueOnError)
	fs.SetOutput(stderr)
	folder, index, keySize := openFlags(fs)
	limit := fs.Int("limit", 0, "stop after this many keys (0 means no limit)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	db, err := open(*folder, *index, *keySize)
	if err != nil {
		fmt.Fprintf(stderr, "cryptexctl: %v\n", err)
		return 1
	}
	defer db.Close()

	count := 0
	err = db.Ascend(byte(*index), func(key []byte) bool {
		fmt.Fprintln(stdout, hex.EncodeToString(key))
		count++
		return *limit == 0 || count < *limit
	})
	if err != nil {
		fmt.Fprintf(stderr, "cryptexctl: %v\n", err)
		return 1
	}
	return 0
}

func open(folder string, index, keySize int) (*cryptexdb.DB, error) {
	if folder == "" {
		return nil, fmt.Errorf("--folder is required")
	}
	if index < 0 || index > 0xff {
		return nil, fmt.Errorf("--index must be in [0, 255], got %s", strconv.Itoa(index))
	}
	if keySize <= 0 {
		return nil, fmt.Errorf("--keysize must be positive")
	}

	db, err := cryptexdb.Open(context.Background(), folder, options.WithSyncOnCommit(true))
	if err != nil {
		return nil, err
	}
	if err := db.LoadIndex(byte(index), keySize, nil); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
