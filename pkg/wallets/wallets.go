package wallets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
)

var ErrInvalidAddress = errors.New("invalid wallet address")

var base58Re = regexp.MustCompile(`[1-9A-HJ-NP-Za-km-z]{32,44}`)

// Validate accepts base58 Solana account addresses that decode to a 32-byte
// key. The system program is rejected: it shows up in exported lists but is
// never a trader.
func Validate(addr string) error {
	if n := len(addr); n < 32 || n > 44 {
		return fmt.Errorf("%w: %q has length %d", ErrInvalidAddress, addr, n)
	}
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
	}
	if pk.Equals(solana.SystemProgramID) {
		return fmt.Errorf("%w: %q is the system program", ErrInvalidAddress, addr)
	}
	return nil
}

// List is a parsed wallet file.
type List struct {
	Wallets    []string // valid, de-duplicated, in file order
	Invalid    []string
	Duplicates int
}

// ParseList reads one address per line. Blank lines and everything after a
// '#' are ignored.
func ParseList(r io.Reader) (List, error) {
	var l List
	seen := map[string]bool{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		addr := addressFromLine(stripComment(sc.Text()))
		if addr == "" {
			continue
		}
		if err := Validate(addr); err != nil {
			l.Invalid = append(l.Invalid, addr)
			continue
		}
		if seen[addr] {
			l.Duplicates++
			continue
		}
		seen[addr] = true
		l.Wallets = append(l.Wallets, addr)
	}
	if err := sc.Err(); err != nil {
		return List{}, fmt.Errorf("read wallet list: %w", err)
	}
	return l, nil
}

func LoadList(path string) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		return List{}, fmt.Errorf("open wallet list: %w", err)
	}
	defer f.Close()

	l, err := ParseList(f)
	if err != nil {
		return List{}, err
	}
	log.Info().Str("file", path).Int("wallets", len(l.Wallets)).Int("invalid", len(l.Invalid)).
		Int("duplicates", l.Duplicates).Msg("📋 wallet list loaded")
	return l, nil
}

// SaveList rewrites path with the given wallets, one per line. The file is
// replaced atomically.
func SaveList(path string, wallets []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".wallets-*")
	if err != nil {
		return fmt.Errorf("save wallet list: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, addr := range wallets {
		fmt.Fprintln(w, addr)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save wallet list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save wallet list: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// addressFromLine unwraps explorer links (solscan, gmgn, birdeye), which
// carry the account as the last path segment.
func addressFromLine(line string) string {
	if !strings.Contains(line, "://") {
		return line
	}
	ms := base58Re.FindAllString(line, -1)
	if len(ms) == 0 {
		return line
	}
	return ms[len(ms)-1]
}

func abbrev(a string) string {
	if len(a) > 12 {
		return a[:6] + "..." + a[len(a)-4:]
	}
	return a
}
