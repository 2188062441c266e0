package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// JournalEntry is one line of a session journal file.
type JournalEntry struct {
	SessionID string  `json:"session_id"`
	Message   Message `json:"message"`
}

// Journal writes session transcripts as JSONL files, one per session. The
// files are a record of what happened; sessions are never restored from them.
type Journal struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewJournal creates a journal under dir.
func NewJournal(dir string) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Session journal initialized")

	return &Journal{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session ID cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\:") {
		return fmt.Errorf("session ID cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session ID cannot contain null bytes")
	}
	return nil
}

func (j *Journal) path(id string) string {
	return filepath.Join(j.dir, id+".jsonl")
}

func (j *Journal) lockFor(id string) *sync.Mutex {
	j.locksMu.Lock()
	defer j.locksMu.Unlock()

	if lock, ok := j.writeLocks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	j.writeLocks[id] = lock
	return lock
}

// Append writes msg to the session's file and syncs it.
func (j *Journal) Append(id string, msg Message) error {
	if err := validateSessionID(id); err != nil {
		return err
	}

	data, err := json.Marshal(JournalEntry{SessionID: id, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	lock := j.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(j.path(id), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// Load reads a session's journal. Corrupt lines are skipped.
func (j *Journal) Load(id string) ([]Message, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}

	file, err := os.Open(j.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	defer file.Close()

	var msgs []Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Message.Role == "" {
			log.Warn().
				Str("session_id", id).
				Int("line", lineNum).
				Msg("Skipping unreadable journal line")
			continue
		}
		msgs = append(msgs, entry.Message)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal file: %w", err)
	}
	return msgs, nil
}

// List returns the IDs of journaled sessions.
func (j *Journal) List() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".jsonl"))
	}
	return ids, nil
}
