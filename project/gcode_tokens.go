package project

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Word is one letter/number pair of a G-code block, e.g. "G38.2" or "X-1.5".
type Word struct {
	Letter byte
	Value  float64
	Raw    string
}

// Is compares the word against a code such as ('G', 38.2).
func (w Word) Is(letter byte, value float64) bool {
	return w.Letter == letter && math.Abs(w.Value-value) < 1e-6
}

// Code is the canonical spelling, "G01" becomes "G1".
func (w Word) Code() string {
	return string(w.Letter) + strconv.FormatFloat(w.Value, 'f', -1, 64)
}

func (w Word) isAxis() bool {
	return w.Letter == 'X' || w.Letter == 'Y' || w.Letter == 'Z'
}

// StripComments removes "(...)" groups and everything after ';'.
// An unterminated '(' comments out the rest of the line.
func StripComments(line string) string {
	var sb strings.Builder
	inComment := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inComment:
			if c == ')' {
				inComment = false
			}
		case c == '(':
			inComment = true
		case c == ';':
			return strings.TrimSpace(sb.String())
		default:
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

// IsCommentOnly matches a line made of a single parenthesised comment.
func IsCommentOnly(line string) bool {
	s := strings.TrimSpace(line)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return false
	}
	return !strings.ContainsAny(s[1:len(s)-1], "()")
}

// StripChecksum drops a trailing "*NN" line checksum.
func StripChecksum(block string) string {
	i := strings.LastIndexByte(block, '*')
	if i < 0 {
		return block
	}
	tail := strings.TrimSpace(block[i+1:])
	if tail == "" {
		return block
	}
	for j := 0; j < len(tail); j++ {
		if !isDigit(tail[j]) {
			return block
		}
	}
	return strings.TrimSpace(block[:i])
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// Tokenize splits a comment free block into words. Whitespace between and
// inside words is ignored, so "G0X1" and "G0 X 1" give the same result.
func Tokenize(block string) ([]Word, error) {
	var words []Word
	i := 0
	for i < len(block) {
		c := block[i]
		if c == ' ' || c == '\t' || c == '\r' {
			i++
			continue
		}
		if !isLetter(c) {
			return nil, fmt.Errorf("unexpected character %q at column %d", c, i+1)
		}
		letter := toUpper(c)
		i++
		for i < len(block) && (block[i] == ' ' || block[i] == '\t') {
			i++
		}

		start := i
		if i < len(block) && (block[i] == '+' || block[i] == '-') {
			i++
		}
		digits, dots := 0, 0
		for i < len(block) && (isDigit(block[i]) || block[i] == '.') {
			if block[i] == '.' {
				dots++
			} else {
				digits++
			}
			i++
		}
		if digits == 0 || dots > 1 {
			return nil, fmt.Errorf("word %c has no valid number %q", letter, block[start:i])
		}
		text := block[start:i]
		value, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("word %c: %w", letter, err)
		}
		words = append(words, Word{Letter: letter, Value: value, Raw: string(letter) + text})
	}
	return words, nil
}
