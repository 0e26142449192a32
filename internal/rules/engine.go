// Package rules normalises transcripts before they are analysed.
//
// A rules file holds one rule per line; blank lines and lines starting with '#'
// are ignored:
//
//	drop: um, uh, you know          remove filler words and phrases
//	kubernetes => Kubernetes        whole-word literal replacement, case-insensitive
//	s/\bk8s\b/Kubernetes/g          regular expression (flags i, g, m, s)
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const defaultPassLimit = 30

// ErrUnstable is returned when rules keep rewriting each other past the pass limit.
var ErrUnstable = errors.New("transcript rules did not settle")

var spaces = regexp.MustCompile(`[ \t]+`)

type rule interface {
	apply(input string) string
}

// Engine applies rules until the transcript stops changing.
type Engine struct {
	rules     []rule
	passLimit int
}

// Load reads rules from path. A missing or empty path yields an engine with no rules.
func Load(path string, passLimit int) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return Parse("", passLimit)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Parse("", passLimit)
		}
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}
	engine, err := Parse(string(contents), passLimit)
	if err != nil {
		return nil, fmt.Errorf("rules file %q: %w", path, err)
	}
	return engine, nil
}

// Parse compiles rules from text.
func Parse(text string, passLimit int) (*Engine, error) {
	if passLimit <= 0 {
		passLimit = defaultPassLimit
	}
	engine := &Engine{passLimit: passLimit}
	for index, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		compiled, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		engine.rules = append(engine.rules, compiled)
	}
	return engine, nil
}

// Len reports the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply rewrites text. Runs of spaces left behind by removals are collapsed.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.rules) == 0 {
		return text, nil
	}

	current := text
	for pass := 0; pass < e.passLimit; pass++ {
		next := current
		for _, r := range e.rules {
			next = r.apply(next)
		}
		next = tidy(next)
		if next == current {
			return current, nil
		}
		current = next
	}
	return current, fmt.Errorf("%w after %d passes", ErrUnstable, e.passLimit)
}

func parseLine(line string) (rule, error) {
	switch {
	case strings.HasPrefix(strings.ToLower(line), "drop:"):
		return parseDrop(line[len("drop:"):])
	case isRegexLine(line):
		return parseRegex(line)
	case strings.Contains(line, "=>"):
		return parseLiteral(line)
	default:
		return nil, errors.New("unsupported rule format")
	}
}

type replaceRule struct {
	re          *regexp.Regexp
	replacement string
	firstOnly   bool
}

func (r replaceRule) apply(input string) string {
	if !r.firstOnly {
		return r.re.ReplaceAllString(input, r.replacement)
	}
	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input
	}
	var out []byte
	out = r.re.ExpandString(out, r.replacement, input, loc)
	return input[:loc[0]] + string(out) + input[loc[1]:]
}

// wordPattern matches phrase case-insensitively, bounded by word edges where the
// phrase itself starts or ends with a word character.
func wordPattern(phrase string) string {
	pattern := regexp.QuoteMeta(phrase)
	if isWordByte(phrase[0]) {
		pattern = `\b` + pattern
	}
	if isWordByte(phrase[len(phrase)-1]) {
		pattern += `\b`
	}
	return "(?i)" + pattern
}

func parseLiteral(line string) (rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	re, err := regexp.Compile(wordPattern(from))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return replaceRule{re: re, replacement: strings.ReplaceAll(to, "$", "$$")}, nil
}

func parseDrop(list string) (rule, error) {
	var alternatives []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			alternatives = append(alternatives, strings.TrimPrefix(wordPattern(item), "(?i)"))
		}
	}
	if len(alternatives) == 0 {
		return nil, errors.New("drop rule needs at least one word")
	}
	// a trailing comma after the filler goes with it
	re, err := regexp.Compile(`(?i)(?:` + strings.Join(alternatives, "|") + `),?`)
	if err != nil {
		return nil, fmt.Errorf("invalid drop rule: %w", err)
	}
	return replaceRule{re: re}, nil
}

// parseRegex parses s<d>pattern<d>replacement<d>flags. Without g only the first
// match is replaced. Matching is case-insensitive unless overridden in the pattern.
func parseRegex(line string) (rule, error) {
	delim := line[1]
	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	prefix := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
		case 'g':
			global = true
		case 'm', 's':
			prefix += string(flag)
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return replaceRule{re: re, replacement: replacement, firstOnly: !global}, nil
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		switch {
		case escaped:
			if char != delim {
				builder.WriteByte('\\')
			}
			builder.WriteByte(char)
			escaped = false
		case char == '\\':
			escaped = true
		case char == delim:
			return builder.String(), index + 1, nil
		default:
			builder.WriteByte(char)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func tidy(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = spaces.ReplaceAllString(line, " ")
		line = strings.ReplaceAll(line, " ,", ",")
		line = strings.ReplaceAll(line, " .", ".")
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

func isWordByte(char byte) bool {
	return char == '_' ||
		(char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9')
}

func isRegexLine(line string) bool {
	return len(line) > 2 && line[0] == 's' && !isWordByte(line[1]) && line[1] != ' ' && line[1] != '\t' &&
		strings.Count(line, string(line[1])) >= 3
}
