// Package rules implements the weighted pattern matcher used by the TTT bot.
//
// Rules are plain data: a recommended move followed by a pattern of tokens
// that is compared position by position against an observation vector built
// from the current board and recent play history. Nothing in a rule file is
// ever evaluated as code.
package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Wildcard matches any observation value and adds nothing to the score.
const Wildcard = "#"

var (
	// ErrNoRules is returned when a rule file holds no rules.
	ErrNoRules = errors.New("rule set is empty")
	// ErrMalformed is returned for unparsable rule lines.
	ErrMalformed = errors.New("malformed rule")
)

// standardSizes are the pattern lengths reachable with up to four history
// entries: three board values, then alternating opponent entries (3 tokens)
// and own entries (4 tokens). Other sizes are accepted but logged.
var standardSizes = map[int]bool{3: true, 6: true, 10: true, 13: true, 17: true}

// Rule recommends Move when Pattern matches the observation.
type Rule struct {
	Move    string
	Pattern []string
	Weight  int
}

// String renders the rule the way it appears in a rule file.
func (r Rule) String() string {
	parts := append([]string{r.Move}, r.Pattern...)
	if r.Weight != 0 {
		parts = append(parts, "@"+strconv.Itoa(r.Weight))
	}
	return strings.Join(parts, " ")
}

// RuleSet is an immutable list of rules loaded once at start.
type RuleSet struct {
	rules []Rule
}

// Len returns the number of loaded rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Rules returns a copy of the loaded rules.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Load reads a rule file from disk.
func Load(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules %s: %w", path, err)
	}
	defer f.Close()
	rs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	log.WithField("rules", rs.Len()).Infof("Rules loaded from %s", path)
	return rs, nil
}

// Parse reads rules from r.
func Parse(r io.Reader) (*RuleSet, error) {
	rs := &RuleSet{}
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		rule, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if !standardSizes[len(rule.Pattern)] {
			log.Warnf("Rule %q has non standard pattern size %d", line, len(rule.Pattern))
		}
		rs.rules = append(rs.rules, rule)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rs.rules) == 0 {
		return nil, ErrNoRules
	}
	return rs, nil
}

// New builds a RuleSet from already parsed rules.
func New(rules ...Rule) (*RuleSet, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		if r.Move == "" {
			return nil, fmt.Errorf("%w: rule %d has no move", ErrMalformed, i)
		}
		out[i] = Rule{Move: strings.ToUpper(r.Move), Pattern: upper(r.Pattern), Weight: r.Weight}
	}
	return &RuleSet{rules: out}, nil
}

func parseLine(line string) (Rule, error) {
	fields := strings.Fields(strings.ToUpper(line))
	weight := 0
	if last := fields[len(fields)-1]; strings.HasPrefix(last, "@") {
		w, err := strconv.Atoi(last[1:])
		if err != nil {
			return Rule{}, fmt.Errorf("%w: bad weight %q", ErrMalformed, last)
		}
		weight = w
		fields = fields[:len(fields)-1]
	}
	if len(fields) < 2 {
		return Rule{}, fmt.Errorf("%w: %q has no pattern", ErrMalformed, line)
	}
	return Rule{Move: fields[0], Pattern: fields[1:], Weight: weight}, nil
}

func upper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}
