package router

import (
	"strings"

	"github.com/google/uuid"
)

// Command prefixes accepted in message text.
var prefixes = []string{"/", "!!"}

func newReqID() string {
	return uuid.NewString()[:8]
}

// stripPrefix returns text without its command prefix, or false when the
// text is not a command.
func stripPrefix(text string) (string, bool) {
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(text, p); ok && rest != "" {
			return rest, true
		}
	}
	return "", false
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
// Examples:
//
//	/cmd a "b c" --k=v
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
		quote bool // current token had quotes, keep it even if empty
	)
	flush := func() {
		if buf.Len() > 0 || quote {
			out = append(out, buf.String())
			buf.Reset()
		}
		quote = false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ, qChar, quote = true, ch, true
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// isNumber reports whether a looks like a signed number ("-8", "+3", "-1.5").
// Such tokens are positionals, not flags.
func isNumber(a string) bool {
	if len(a) < 2 || (a[0] != '-' && a[0] != '+') {
		return false
	}
	dot := false
	for i := 1; i < len(a); i++ {
		c := a[i]
		if c == '.' && !dot && i > 1 {
			dot = true
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isFlag(a string) bool {
	return strings.HasPrefix(a, "-") && a != "-" && !isNumber(a)
}

// parseFlags splits raw args into positionals and flags.
//
// Supported:
//
//	--k=v, --k v, --flag (bool)
//	-k=v, -k v, -abc (bool flags a,b,c)
//	"--" ends flag parsing
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			pos = append(pos, args[i+1:]...)
			break
		}
		if !isFlag(a) {
			pos = append(pos, a)
			continue
		}
		long := strings.HasPrefix(a, "--")
		key := strings.TrimLeft(a, "-")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			flags[key[:eq]] = key[eq+1:]
			continue
		}
		if long || len(key) == 1 {
			if i+1 < len(args) && !isFlag(args[i+1]) {
				flags[key] = args[i+1]
				i++
				continue
			}
			bools[key] = true
			continue
		}
		for j := 0; j < len(key); j++ {
			bools[string(key[j])] = true
		}
	}
	return pos, flags, bools
}
