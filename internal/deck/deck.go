// Package deck deals pre-shuffled TTT hands from a deck ("shoe") file.
//
// A deck file holds one hand per line, eight whitespace-separated card codes
// in the canonical position order. Blank lines and lines starting with '#'
// or '//' are ignored. Hands are consumed front to back and never reused.
package deck

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/graphgames/ttt/internal/models"
)

// ErrMalformed wraps every configuration problem found while loading a deck.
var ErrMalformed = errors.New("malformed deck")

// Deck is a per-session cursor over the remaining hands of a deck file.
// It is not safe for concurrent use; each session owns its own Deck.
type Deck struct {
	lines []string
	dealt int
}

// Load reads and validates the deck file at path.
func Load(path string) (*Deck, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deck %s: %w", path, err)
	}
	defer f.Close()
	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("deck %s: %w", path, err)
	}
	return d, nil
}

// Parse reads a deck from r, keeping only hand lines.
// Every kept line must render into a valid Hand.
func Parse(r io.Reader) (*Deck, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if skipLine(line) {
			continue
		}
		if _, err := models.ParseHand(line); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, n, err)
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &Deck{lines: lines}, nil
}

// FromLines builds a deck directly from hand lines.
func FromLines(lines ...string) (*Deck, error) {
	return Parse(strings.NewReader(strings.Join(lines, "\n")))
}

func skipLine(line string) bool {
	return line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//")
}

// Next pops the next hand. It returns false once the deck is exhausted,
// which ends the session.
func (d *Deck) Next() (models.Hand, bool) {
	if d == nil || d.dealt >= len(d.lines) {
		return nil, false
	}
	line := d.lines[d.dealt]
	d.dealt++
	// Lines were validated by Parse.
	h, _ := models.ParseHand(line)
	return h, true
}

// Remaining returns how many hands are left.
func (d *Deck) Remaining() int {
	if d == nil {
		return 0
	}
	return len(d.lines) - d.dealt
}

// Total returns the number of hands the deck started with.
func (d *Deck) Total() int {
	if d == nil {
		return 0
	}
	return len(d.lines)
}
