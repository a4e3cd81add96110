package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// commLen is the kernel's TASK_COMM_LEN minus the terminating NUL
const commLen = 15

// Info is one entry of the process table
type Info struct {
	PID   int
	Name  string
	State byte
	Argv0 string
}

// Table scans a procfs mount for live processes
type Table struct {
	root string
}

// NewTable returns a table reading /proc
func NewTable() *Table {
	return &Table{root: "/proc"}
}

// NewTableAt returns a table reading a procfs tree mounted at root
func NewTableAt(root string) *Table {
	return &Table{root: root}
}

// IsAvailable reports whether the procfs root can be read
func (t *Table) IsAvailable() bool {
	_, err := os.Stat(t.root)
	return err == nil
}

// Running reports whether a live, non-zombie process is named name.
// A process matches on its comm (truncated by the kernel) or on the base
// name of argv[0].
func (t *Table) Running(name string) (bool, error) {
	procs, err := t.Scan()
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		if p.State == 'Z' {
			continue
		}
		if matches(p, name) {
			return true, nil
		}
	}
	return false, nil
}

// Find returns the pids of all live processes named name
func (t *Table) Find(name string) ([]int, error) {
	procs, err := t.Scan()
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, p := range procs {
		if p.State != 'Z' && matches(p, name) {
			pids = append(pids, p.PID)
		}
	}
	return pids, nil
}

// Scan reads every numeric directory of the procfs root. Processes that
// exit while being read are skipped.
func (t *Table) Scan() ([]Info, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", t.root)
	}

	procs := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		info, err := t.readProcessInfo(pid)
		if err != nil {
			continue
		}
		procs = append(procs, *info)
	}
	return procs, nil
}

func (t *Table) readProcessInfo(pid int) (*Info, error) {
	info := &Info{PID: pid}

	statPath := filepath.Join(t.root, strconv.Itoa(pid), "stat")
	statData, err := os.ReadFile(statPath)
	if err != nil {
		return nil, err
	}

	statStr := string(statData)
	startIdx := strings.Index(statStr, "(")
	endIdx := strings.LastIndex(statStr, ")")
	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		return nil, errors.Errorf("malformed stat for pid %d", pid)
	}
	info.Name = statStr[startIdx+1 : endIdx]
	if rest := strings.TrimSpace(statStr[endIdx+1:]); rest != "" {
		info.State = rest[0]
	}

	cmdlinePath := filepath.Join(t.root, strconv.Itoa(pid), "cmdline")
	if cmdData, err := os.ReadFile(cmdlinePath); err == nil {
		argv0, _, _ := strings.Cut(string(cmdData), "\x00")
		info.Argv0 = argv0
	}

	return info, nil
}

func matches(p Info, name string) bool {
	if p.Name == name {
		return true
	}
	if len(name) > commLen && p.Name == name[:commLen] {
		return true
	}
	return p.Argv0 != "" && filepath.Base(p.Argv0) == name
}
