package console

import "strings"

// SplitLines splits text on newlines and semicolons outside quotes.
func SplitLines(text string) []string {
	var (
		lines   []string
		start   int
		inQuote bool
	)
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '"':
			inQuote = !inQuote
		case ';':
			if inQuote {
				continue
			}
			fallthrough
		case '\n':
			lines = append(lines, text[start:i])
			start = i + 1
			inQuote = false
		}
	}
	return append(lines, text[start:])
}

// Tokenize splits a command line into words. Double quotes group words
// and "//" starts a comment.
func Tokenize(line string) []string {
	var (
		args []string
		cur  strings.Builder
		have bool
	)
	flush := func() {
		if have {
			args = append(args, cur.String())
			cur.Reset()
			have = false
		}
	}

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				end = len(line) - i - 1
			}
			cur.WriteString(line[i+1 : i+1+end])
			have = true
			i += end + 1
		case ch == '/' && i+1 < len(line) && line[i+1] == '/':
			flush()
			return args
		case ch == ' ' || ch == '\t' || ch == '\r':
			flush()
		default:
			cur.WriteByte(ch)
			have = true
		}
	}
	flush()
	return args
}
