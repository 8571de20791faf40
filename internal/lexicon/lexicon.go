// Package lexicon rewrites caption text before it reaches a speech engine.
//
// A lexicon file is YAML:
//
//	loop_limit: 10
//	substitutions:
//	  - say: "Nana"
//	    as: "Nah-nah"
//	  - pattern: '\bLOL\b'
//	    as: "laughing out loud"
//	    global: true
//
// Literal entries match case-insensitively everywhere. Pattern entries
// replace the first match unless global is set.
package lexicon

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

const defaultLoopLimit = 30

type compiledEntry interface {
	Apply(input string) (output string, changed bool)
}

// File is the on-disk shape of a lexicon.
type File struct {
	LoopLimit     int     `yaml:"loop_limit,omitempty"`
	Substitutions []Entry `yaml:"substitutions"`
}

// Entry is one substitution. Exactly one of Say or Pattern is set.
type Entry struct {
	Say       string `yaml:"say,omitempty"`
	Pattern   string `yaml:"pattern,omitempty"`
	As        string `yaml:"as"`
	Global    bool   `yaml:"global,omitempty"`
	MatchCase bool   `yaml:"match_case,omitempty"`
}

// Lexicon applies deterministic substitutions to caption text.
type Lexicon struct {
	entries   []compiledEntry
	loopLimit int
}

// Load reads a lexicon file. An empty path or a missing file yields an
// empty lexicon that only normalizes text.
func Load(path string) (*Lexicon, error) {
	if strings.TrimSpace(path) == "" {
		return &Lexicon{loopLimit: defaultLoopLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Lexicon{loopLimit: defaultLoopLimit}, nil
		}
		return nil, fmt.Errorf("failed to read lexicon %q: %w", path, err)
	}

	lex, err := Parse(contents)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lexicon %q: %w", path, err)
	}
	return lex, nil
}

// Parse compiles a lexicon from YAML bytes.
func Parse(contents []byte) (*Lexicon, error) {
	var file File
	if len(bytes.TrimSpace(contents)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(contents))
		decoder.KnownFields(true)
		if err := decoder.Decode(&file); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	return Compile(file)
}

// Compile turns a decoded File into a Lexicon.
func Compile(file File) (*Lexicon, error) {
	loopLimit := file.LoopLimit
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}

	entries := make([]compiledEntry, 0, len(file.Substitutions))
	for index, entry := range file.Substitutions {
		compiled, err := compileEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("substitution %d: %w", index+1, err)
		}
		entries = append(entries, compiled)
	}
	return &Lexicon{entries: entries, loopLimit: loopLimit}, nil
}

// Len reports the number of compiled substitutions.
func (l *Lexicon) Len() int {
	return len(l.entries)
}

// Apply normalizes text to NFC and rewrites it until no entry changes it
// or the loop limit is reached.
func (l *Lexicon) Apply(text string) (string, error) {
	result := norm.NFC.String(text)
	if len(l.entries) == 0 {
		return result, nil
	}

	for i := 0; i < l.loopLimit; i++ {
		changed := false
		for _, entry := range l.entries {
			next, entryChanged := entry.Apply(result)
			if entryChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}
	return result, nil
}

func compileEntry(entry Entry) (compiledEntry, error) {
	say := norm.NFC.String(strings.TrimSpace(entry.Say))
	pattern := strings.TrimSpace(entry.Pattern)
	replacement := norm.NFC.String(entry.As)

	switch {
	case say != "" && pattern != "":
		return nil, errors.New("say and pattern are mutually exclusive")
	case say != "":
		return compileLiteral(say, replacement, entry.MatchCase)
	case pattern != "":
		return compilePattern(pattern, replacement, entry.Global, entry.MatchCase)
	default:
		return nil, errors.New("one of say or pattern is required")
	}
}

type literalEntry struct {
	replacement string
	re          *regexp.Regexp
}

func compileLiteral(from, to string, matchCase bool) (compiledEntry, error) {
	expr := regexp.QuoteMeta(from)
	if !matchCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid literal: %w", err)
	}
	return literalEntry{replacement: to, re: re}, nil
}

func (e literalEntry) Apply(input string) (string, bool) {
	output := e.re.ReplaceAllLiteralString(input, e.replacement)
	return output, output != input
}

type patternEntry struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func compilePattern(pattern, replacement string, global, matchCase bool) (compiledEntry, error) {
	if !matchCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return patternEntry{re: re, replacement: replacement, global: global}, nil
}

func (e patternEntry) Apply(input string) (string, bool) {
	if e.global {
		output := e.re.ReplaceAllString(input, e.replacement)
		return output, output != input
	}

	loc := e.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}

	expanded := e.re.ExpandString(nil, e.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}
