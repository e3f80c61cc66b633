// Package hash derives content identifiers for configuration trees.
// It implements domain.TreeHasher with a keyed BLAKE3 digest over a
// canonical, path-sorted walk of the tree.
package hash

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/henix-dev/henix/internal/domain"
)

// treeDomainKey is the 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures tree identifiers can never collide with hashes of the
// same bytes computed in another context. The value is the ASCII encoding of
// the domain name, zero-padded, so it stays inspectable in hex dumps.
var treeDomainKey = [32]byte{
	'h', 'e', 'n', 'i', 'x', '.', 't', 'r', 'e', 'e', '.', 'v', '1',
}

// Entry kind tags mixed into the digest ahead of each entry.
const (
	kindFile    byte = 'f'
	kindDir     byte = 'd'
	kindSymlink byte = 'l'
)

// gitDir is excluded from the identifier. The transfer excludes it too, so
// the identifier covers exactly the bytes that ship to the slot.
const gitDir = ".git"

// TreeHasher derives identifiers from local configuration trees.
type TreeHasher struct{}

// NewTreeHasher creates a TreeHasher.
func NewTreeHasher() *TreeHasher {
	return &TreeHasher{}
}

// Derive computes the identifier for the tree rooted at dir.
//
// The walk visits directories, regular files, and symlinks in sorted order
// of their slash-separated relative paths. Each entry contributes a kind
// tag, its relative path, and its content (file bytes, or the symlink
// target; directories have none), all length-framed so distinct trees can
// never serialize identically. Renaming a file, editing a byte, or adding
// an empty directory therefore changes the identifier, while the machine,
// absolute location, and walk timing never do. Directories count because
// the transfer ships them: two trees the transport materializes differently
// must never share a slot.
//
// Returns an error wrapping domain.ErrTreeUnreadable if dir or any entry
// under it cannot be read.
func (h *TreeHasher) Derive(ctx context.Context, dir string) (domain.Identifier, error) {
	entries, err := collectEntries(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTreeUnreadable, err)
	}
	sort.Strings(entries)

	hasher, err := blake3.NewKeyed(treeDomainKey[:])
	if err != nil {
		return "", fmt.Errorf("initializing keyed hasher: %w", err)
	}

	for _, rel := range entries {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := digestEntry(hasher, dir, rel); err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrTreeUnreadable, err)
		}
	}

	return domain.Identifier(hex.EncodeToString(hasher.Sum(nil))), nil
}

// collectEntries returns the slash-separated relative paths of all
// directories, regular files, and symlinks under dir, excluding the root
// itself and anything inside a .git directory.
func collectEntries(dir string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == gitDir && p != dir {
				return filepath.SkipDir
			}
			if p == dir {
				return nil
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			entries = append(entries, filepath.ToSlash(rel))
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			// Sockets, devices, fifos: rsync -a would carry them, but a
			// configuration tree has no business containing them and their
			// content is not hashable. Refuse rather than silently diverge
			// from what ships.
			return fmt.Errorf("unsupported file type at %s", p)
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// digestEntry feeds one entry's kind, path, and content into the hasher.
func digestEntry(hasher *blake3.Hasher, dir, rel string) error {
	p := filepath.Join(dir, filepath.FromSlash(rel))
	info, err := os.Lstat(p)
	if err != nil {
		return err
	}

	if info.IsDir() {
		writeFrame(hasher, kindDir, rel, 0)
		return nil
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(p)
		if err != nil {
			return err
		}
		writeFrame(hasher, kindSymlink, rel, uint64(len(target)))
		hasher.Write([]byte(target))
		return nil
	}

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	writeFrame(hasher, kindFile, rel, uint64(info.Size()))
	n, err := io.Copy(hasher, f)
	if err != nil {
		return err
	}
	if n != info.Size() {
		return fmt.Errorf("file %s changed size during hashing", rel)
	}
	return nil
}

// writeFrame writes the entry header: kind tag, length-framed path, and
// content length. Length framing makes the serialization injective.
func writeFrame(hasher *blake3.Hasher, kind byte, rel string, contentLen uint64) {
	var lenBuf [8]byte
	hasher.Write([]byte{kind})
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(rel)))
	hasher.Write(lenBuf[:])
	hasher.Write([]byte(rel))
	binary.LittleEndian.PutUint64(lenBuf[:], contentLen)
	hasher.Write(lenBuf[:])
}
