package wallets

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Blacklist is the append-only set of wallets excluded from batch runs.
// One instance is shared by every batch worker; Add serializes appends so
// the file never gets a lost or duplicated line.
type Blacklist struct {
	mu      sync.Mutex
	path    string // "" keeps the set in memory only
	set     map[string]string
	needsNL bool // file does not end in a newline yet
}

// NewBlacklist returns an in-memory blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{set: map[string]string{}}
}

// OpenBlacklist loads path if it exists. Later Adds append to it.
// Lines are "address" or "address # reason".
func OpenBlacklist(path string) (*Blacklist, error) {
	b := &Blacklist{path: path, set: map[string]string{}}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open blacklist: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		addr, reason := line, ""
		if i := strings.IndexByte(line, '#'); i >= 0 {
			addr, reason = line[:i], strings.TrimSpace(line[i+1:])
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		b.set[addr] = reason
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read blacklist: %w", err)
	}
	if b.needsNL, err = missingTrailingNewline(f); err != nil {
		return nil, fmt.Errorf("read blacklist: %w", err)
	}
	log.Debug().Str("file", path).Int("entries", len(b.set)).Msg("blacklist loaded")
	return b, nil
}

func (b *Blacklist) Contains(addr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.set[addr]
	return ok
}

// Add records addr. It returns false when addr was already listed.
func (b *Blacklist) Add(addr, reason string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.set[addr]; ok {
		return false, nil
	}
	if b.path != "" {
		if err := b.appendLine(addr, reason); err != nil {
			return false, err
		}
	}
	b.set[addr] = reason
	log.Info().Str("wallet", abbrev(addr)).Str("reason", reason).Msg("🚫 blacklisted")
	return true, nil
}

func (b *Blacklist) appendLine(addr, reason string) error {
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append blacklist: %w", err)
	}
	line := addr
	if reason != "" {
		line += " # " + strings.ReplaceAll(reason, "\n", " ")
	}
	if b.needsNL {
		line = "\n" + line
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return fmt.Errorf("append blacklist: %w", err)
	}
	b.needsNL = false
	return f.Close()
}

// missingTrailingNewline reports whether a non-empty f ends without '\n'.
func missingTrailingNewline(f *os.File) (bool, error) {
	fi, err := f.Stat()
	if err != nil || fi.Size() == 0 {
		return false, err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.set)
}

// Reason returns why addr was listed, if it was.
func (b *Blacklist) Reason(addr string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.set[addr]
	return r, ok
}

// Entries lists every address, sorted.
func (b *Blacklist) Entries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.set))
	for a := range b.set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
