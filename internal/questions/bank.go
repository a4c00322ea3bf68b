package questions

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/vquiz/internal/quiz"
)

//go:embed bank/*.yaml
var bundledBank embed.FS

// BankEntry is one offline question.
type BankEntry struct {
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
	Domain   string `yaml:"domain"`
}

// Bank serves the offline question collection for one difficulty at a time.
type Bank interface {
	Entries(d quiz.Difficulty) ([]BankEntry, error)
}

// AssetBank reads <difficulty>.yaml files from a filesystem and caches the
// parsed result per difficulty.
type AssetBank struct {
	fsys fs.FS

	mu    sync.Mutex
	cache map[quiz.Difficulty][]BankEntry
}

// NewAssetBank creates a bank reading from fsys.
func NewAssetBank(fsys fs.FS) *AssetBank {
	return &AssetBank{fsys: fsys, cache: make(map[quiz.Difficulty][]BankEntry)}
}

// BundledBank returns the bank compiled into the binary.
func BundledBank() *AssetBank {
	sub, err := fs.Sub(bundledBank, "bank")
	if err != nil {
		panic(fmt.Sprintf("bundled question bank: %v", err))
	}
	return NewAssetBank(sub)
}

// OpenBank returns a bank backed by dir, or the bundled bank when dir is
// empty. A missing dir is an error.
func OpenBank(dir string) (*AssetBank, error) {
	if dir == "" {
		return BundledBank(), nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening question bank: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("question bank %s is not a directory", dir)
	}
	return NewAssetBank(os.DirFS(dir)), nil
}

// Entries returns the entries for d. Entries with an empty question or
// answer are dropped.
func (b *AssetBank) Entries(d quiz.Difficulty) ([]BankEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cached, ok := b.cache[d]; ok {
		return cached, nil
	}

	data, err := fs.ReadFile(b.fsys, string(d)+".yaml")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no question bank for difficulty %q", d)
		}
		return nil, fmt.Errorf("reading question bank %q: %w", d, err)
	}

	var raw []BankEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing question bank %q: %w", d, err)
	}

	entries := make([]BankEntry, 0, len(raw))
	for _, e := range raw {
		e.Question = strings.TrimSpace(e.Question)
		e.Answer = strings.TrimSpace(e.Answer)
		if e.Question == "" || e.Answer == "" {
			continue
		}
		entries = append(entries, e)
	}
	b.cache[d] = entries
	return entries, nil
}

// Sizes reports how many entries each difficulty holds. Unreadable files
// count as zero.
func Sizes(b Bank) map[quiz.Difficulty]int {
	out := make(map[quiz.Difficulty]int, len(quiz.Difficulties))
	for _, d := range quiz.Difficulties {
		entries, _ := b.Entries(d)
		out[d] = len(entries)
	}
	return out
}
