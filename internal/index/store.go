package index

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"loupe/internal/sym"
)

// formatVersion guards the on-disk layout. A mismatch is treated the same
// as corruption: the caller rebuilds from source.
const formatVersion = 1

// shardThreshold is the symbol count above which the symbol table splits
// into 16 shards keyed by the first hex digit of the hash.
const shardThreshold = 4096

// ErrCorrupt reports an unreadable or checksum-mismatched cache. Callers
// fall back to a full rebuild.
var ErrCorrupt = errors.New("index cache corrupt")

// ErrNoCache reports an absent cache directory.
var ErrNoCache = errors.New("no index cache")

type manifest struct {
	Format  int          `json:"format"`
	Version int64        `json:"version"`
	Files   shardEntry   `json:"files"`
	Shards  []shardEntry `json:"shards"`
}

type shardEntry struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
}

// Store reads and writes snapshots under a cache directory.
type Store struct {
	Dir string
}

// NewStore returns a store rooted at dir. Nothing is created until Save.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Save writes the snapshot atomically: every payload lands under a tmp
// name first, the manifest is renamed into place last. A reader that
// races a save sees either the old complete state or the new one.
func (st *Store) Save(s *Snapshot) error {
	if err := os.MkdirAll(filepath.Join(st.Dir, "shards"), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	m := manifest{Format: formatVersion, Version: s.Version}

	filesBlob, err := marshalSorted(s.Files)
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(st.Dir, "files.json"), filesBlob); err != nil {
		return err
	}
	m.Files = shardEntry{Name: "files.json", Checksum: digest(filesBlob)}

	for i, shard := range partition(s.Symbols) {
		blob, err := marshalSorted(shard)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("shards/symbols-%02d.json", i)
		if err := writeAtomic(filepath.Join(st.Dir, name), blob); err != nil {
			return err
		}
		m.Shards = append(m.Shards, shardEntry{Name: name, Checksum: digest(blob)})
	}

	blob, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return writeAtomic(filepath.Join(st.Dir, "manifest.json"), blob)
}

// Load reads a snapshot back. Checksum or format mismatches return
// ErrCorrupt wrapped with detail; a missing manifest returns ErrNoCache.
func (st *Store) Load() (*Snapshot, error) {
	blob, err := os.ReadFile(filepath.Join(st.Dir, "manifest.json"))
	if os.IsNotExist(err) {
		return nil, ErrNoCache
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	if m.Format != formatVersion {
		return nil, fmt.Errorf("%w: format %d, want %d", ErrCorrupt, m.Format, formatVersion)
	}

	s := NewSnapshot()
	s.Version = m.Version

	blob, err = st.readVerified(m.Files)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(blob, &s.Files); err != nil {
		return nil, fmt.Errorf("%w: files.json: %v", ErrCorrupt, err)
	}

	for _, entry := range m.Shards {
		blob, err := st.readVerified(entry)
		if err != nil {
			return nil, err
		}
		shard := make(map[string]*sym.Symbol)
		if err := json.Unmarshal(blob, &shard); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, entry.Name, err)
		}
		for h, symb := range shard {
			s.Symbols[h] = symb
		}
	}

	s.rebuildDerived()
	return s, nil
}

func (st *Store) readVerified(entry shardEntry) ([]byte, error) {
	if strings.Contains(entry.Name, "..") {
		return nil, fmt.Errorf("%w: bad shard name %q", ErrCorrupt, entry.Name)
	}
	blob, err := os.ReadFile(filepath.Join(st.Dir, filepath.FromSlash(entry.Name)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, entry.Name, err)
	}
	if digest(blob) != entry.Checksum {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", ErrCorrupt, entry.Name)
	}
	return blob, nil
}

// partition splits the symbol table into shards. Small tables stay in
// one shard; large ones split by the first hex digit of the hash.
func partition(symbols map[string]*sym.Symbol) []map[string]*sym.Symbol {
	if len(symbols) <= shardThreshold {
		return []map[string]*sym.Symbol{symbols}
	}
	shards := make([]map[string]*sym.Symbol, 16)
	for i := range shards {
		shards[i] = make(map[string]*sym.Symbol)
	}
	for h, symb := range symbols {
		i := 0
		if len(h) > 0 {
			if n, err := strconv.ParseUint(h[:1], 16, 8); err == nil {
				i = int(n)
			}
		}
		shards[i][h] = symb
	}
	return shards
}

// marshalSorted renders a string-keyed map with deterministic key order
// so identical snapshots produce byte-identical cache files.
func marshalSorted[V any](m map[string]V) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("{\n")
	for i, k := range keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m[k])
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", k, err)
		}
		b.WriteString("  ")
		b.Write(kb)
		b.WriteString(": ")
		b.Write(vb)
		if i < len(keys)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return []byte(b.String()), nil
}

func writeAtomic(path string, blob []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit %s: %w", filepath.Base(path), err)
	}
	return nil
}

func digest(blob []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(blob))
}
