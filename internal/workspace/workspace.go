// Package workspace resolves where lograg keeps its state: config, index and shell history.
package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	dirName     = ".lograg"
	configFile  = "config.yaml"
	indexDir    = "index"
	historyFile = "history"
)

// Workspace is created once at startup and handed to every component that touches disk.
type Workspace struct {
	dataDir string
}

// New returns a workspace rooted at dataDir, or at ~/.lograg when dataDir is empty.
func New(dataDir string) (*Workspace, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "resolve home directory")
		}
		dataDir = filepath.Join(home, dirName)
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", dataDir)
	}
	return &Workspace{dataDir: abs}, nil
}

// Ensure creates the data directory.
func (w *Workspace) Ensure() error {
	return errors.Wrapf(os.MkdirAll(w.dataDir, 0o755), "create %s", w.dataDir)
}

func (w *Workspace) DataDir() string     { return w.dataDir }
func (w *Workspace) ConfigPath() string  { return filepath.Join(w.dataDir, configFile) }
func (w *Workspace) IndexDir() string    { return filepath.Join(w.dataDir, indexDir) }
func (w *Workspace) HistoryPath() string { return filepath.Join(w.dataDir, historyFile) }

// History returns previously asked questions, oldest first. A missing file is an empty history.
func (w *Workspace) History() ([]string, error) {
	f, err := os.Open(w.HistoryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open history")
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, errors.Wrap(sc.Err(), "read history")
}

// AppendHistory records a question. Newlines are folded so each question stays on one line.
func (w *Workspace) AppendHistory(question string) error {
	question = strings.Join(strings.Fields(question), " ")
	if question == "" {
		return nil
	}
	if err := w.Ensure(); err != nil {
		return err
	}
	f, err := os.OpenFile(w.HistoryPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "open history")
	}
	if _, err := f.WriteString(question + "\n"); err != nil {
		f.Close()
		return errors.Wrap(err, "write history")
	}
	return errors.Wrap(f.Close(), "close history")
}
