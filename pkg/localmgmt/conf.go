package localmgmt

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ConfStore is the local conf-file surface READ_RYE_FILE/WRITE_RYE_CONF/
// UPDATE_CONF/DELETE_CONF/GET_CONF operate on (spec.md §4.8). Conf files are
// the line-oriented `key value` format rye's own broker.conf/cas.conf use;
// one mutex per store since the five ops always touch the same file.
type ConfStore struct {
	Path string

	mu sync.Mutex
}

// NewConfStore builds a ConfStore over the conf file at path.
func NewConfStore(path string) *ConfStore {
	return &ConfStore{Path: path}
}

// ReadFile returns the conf file's full raw contents (READ_RYE_FILE).
func (s *ConfStore) ReadFile() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("localmgmt: read %s: %w", s.Path, err)
	}
	return b, nil
}

// WriteConf replaces the conf file's contents wholesale (WRITE_RYE_CONF).
func (s *ConfStore) WriteConf(body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.Path, body, 0o644); err != nil {
		return fmt.Errorf("localmgmt: write %s: %w", s.Path, err)
	}
	return nil
}

// GetConf returns one key's value, or ("", false) if absent (GET_CONF).
func (s *ConfStore) GetConf(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, err := s.readLines()
	if err != nil {
		return "", false, err
	}
	for _, ln := range lines {
		k, v, ok := splitConfLine(ln)
		if ok && k == key {
			return v, true, nil
		}
	}
	return "", false, nil
}

// UpdateConf sets key to value, appending it if absent (UPDATE_CONF).
func (s *ConfStore) UpdateConf(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, err := s.readLines()
	if err != nil {
		return err
	}
	found := false
	for i, ln := range lines {
		k, _, ok := splitConfLine(ln)
		if ok && k == key {
			lines[i] = fmt.Sprintf("%s %s", key, value)
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, fmt.Sprintf("%s %s", key, value))
	}
	return s.writeLines(lines)
}

// DeleteConf removes key's line entirely (DELETE_CONF); absent keys are a
// no-op, not an error.
func (s *ConfStore) DeleteConf(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, err := s.readLines()
	if err != nil {
		return err
	}
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		k, _, ok := splitConfLine(ln)
		if ok && k == key {
			continue
		}
		out = append(out, ln)
	}
	return s.writeLines(out)
}

func (s *ConfStore) readLines() ([]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("localmgmt: open %s: %w", s.Path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("localmgmt: scan %s: %w", s.Path, err)
	}
	return lines, nil
}

func (s *ConfStore) writeLines(lines []string) error {
	var b strings.Builder
	for _, ln := range lines {
		b.WriteString(ln)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(s.Path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("localmgmt: write %s: %w", s.Path, err)
	}
	return nil
}

// splitConfLine parses a "key value" line, skipping blanks and '#' comments.
func splitConfLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	fields := strings.SplitN(trimmed, " ", 2)
	if len(fields) == 0 {
		return "", "", false
	}
	key = fields[0]
	if len(fields) == 2 {
		value = strings.TrimSpace(fields[1])
	}
	return key, value, true
}
