package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor masks credentials and screenshot payloads before log lines
// reach a sink. Keyed secrets keep their key so the line stays readable.
type Redactor struct {
	rules []rule
}

func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range []string{
		`sk-ant-[a-zA-Z0-9_-]{20,}`,
		`sk-[a-zA-Z0-9_-]{20,}`,
		`AKIA[0-9A-Z]{16}`,
	} {
		r.rules = append(r.rules, rule{regexp.MustCompile(p), redacted})
	}
	r.rules = append(r.rules,
		rule{regexp.MustCompile(`(Bearer\s+)[a-zA-Z0-9._-]+`), "${1}" + redacted},
		// api_key, access_key, secret_key, password, shared_secret
		rule{regexp.MustCompile(`(?i)((?:api|access|secret)[_-]?key|password|shared[_-]?secret)("?\s*[:=]\s*"?)[^\s",}]+`), "${1}${2}" + redacted},
		rule{regexp.MustCompile(`data:image/[a-z]+;base64,[A-Za-z0-9+/=]+`), "[IMAGE]"},
	)
	return r
}

// AddPattern masks every match of pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{re, redacted})
	return nil
}

func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		if _, err := io.WriteString(w, r.Redact(string(p))); err != nil {
			return 0, err
		}
		// zerolog treats a short count as a failed write.
		return len(p), nil
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
