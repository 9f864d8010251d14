package ingress

import "strings"

const indentUnit = "    "

type confWriter struct {
	b     strings.Builder
	depth int
}

func (w *confWriter) open(header string) {
	w.line(header + " {")
	w.depth++
}

func (w *confWriter) close() {
	w.depth--
	w.line("}")
}

func (w *confWriter) line(s string) {
	w.b.WriteString(strings.Repeat(indentUnit, w.depth))
	w.b.WriteString(s)
	w.b.WriteByte('\n')
}

func (w *confWriter) blank() {
	w.b.WriteByte('\n')
}

// raw copies content line by line without reformatting.
func (w *confWriter) raw(content string) {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return
	}
	for _, l := range strings.Split(content, "\n") {
		w.b.WriteString(l)
		w.b.WriteByte('\n')
	}
}

func (w *confWriter) String() string {
	return w.b.String()
}
