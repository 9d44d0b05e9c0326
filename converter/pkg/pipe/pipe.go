// Package pipe reads the pipe-delimited line format shared by the export, catalog
// and zone files.
package pipe

import (
	"bufio"
	"io"
	"strings"
)

const Delimiter = "|"

// maxLineSize bounds a single record line.
const maxLineSize = 1 << 20

// Fields is one split record. Reading past the end yields "".
type Fields []string

func Split(line string) Fields {
	return strings.Split(line, Delimiter)
}

func (f Fields) Get(i int) string {
	if i < 0 || i >= len(f) {
		return ""
	}
	return strings.TrimSpace(f[i])
}

// Scan calls fn for every non-blank line of r with its 1-based line number. Trailing
// carriage returns are dropped. Scanning stops at the first error returned by fn.
func Scan(r io.Reader, fn func(lineNo int, line string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	return sc.Err()
}
