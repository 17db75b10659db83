package misc

import (
	"os"
	"path/filepath"
	"strings"
)

type FileDumper struct {
	path string
}

func (this *FileDumper) Init(path string) {
	this.path = path
}

func (this *FileDumper) WriteLines(lines []string) error {
	return this.WriteBytes([]byte(strings.Join(lines, "\n") + "\n"))
}

func (this *FileDumper) WriteBytes(data []byte) error {
	if dir := filepath.Dir(this.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return os.WriteFile(this.path, data, 0o644)
}
