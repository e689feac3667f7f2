package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/claude-flow/claude-flow/pkg/models"
)

// StatusPath returns the conventional path of an agent's status
// document.
func (p *Pipeline) StatusPath(agentID string) string {
	return filepath.Join(p.cfg.StatusDir, agentID+"-status.json")
}

// WriteStatus writes the agent's status document, creating the status
// directory if needed.
func (p *Pipeline) WriteStatus(agentID string, doc *models.StatusDocument) error {
	if err := os.MkdirAll(p.cfg.StatusDir, 0755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status document: %w", err)
	}

	path := p.StatusPath(agentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write status document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write status document: %w", err)
	}
	return nil
}

// ReadStatus reads and parses an agent's status document.
func (p *Pipeline) ReadStatus(agentID string) (*models.StatusDocument, error) {
	data, err := os.ReadFile(p.StatusPath(agentID))
	if err != nil {
		return nil, fmt.Errorf("read status document: %w", err)
	}

	var doc models.StatusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse status document: %w", err)
	}
	return &doc, nil
}

// WaitResult reports which status documents appeared before the
// timeout.
type WaitResult struct {
	// Found lists agents whose documents exist.
	Found []string
	// Missing lists agents whose documents never appeared.
	Missing []string
	// TimedOut is true when the wait gave up before all appeared.
	TimedOut bool
}

// WaitForStatus waits until every listed agent has a status document,
// or the timeout elapses. It watches the status directory with
// fsnotify and falls back to polling, since a watch can miss documents
// written before it was established.
func (p *Pipeline) WaitForStatus(ctx context.Context, agentIDs []string, timeout time.Duration) WaitResult {
	pending := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		pending[id] = true
	}

	check := func() {
		for id := range pending {
			if _, err := os.Stat(p.StatusPath(id)); err == nil {
				delete(pending, id)
			}
		}
	}

	result := func(timedOut bool) WaitResult {
		r := WaitResult{TimedOut: timedOut}
		for _, id := range agentIDs {
			if pending[id] {
				r.Missing = append(r.Missing, id)
			} else {
				r.Found = append(r.Found, id)
			}
		}
		return r
	}

	check()
	if len(pending) == 0 {
		return result(false)
	}

	var watchEvents chan fsnotify.Event
	if err := os.MkdirAll(p.cfg.StatusDir, 0755); err == nil {
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			defer watcher.Close()
			if err := watcher.Add(p.cfg.StatusDir); err == nil {
				watchEvents = make(chan fsnotify.Event, 16)
				go func() {
					for event := range watcher.Events {
						select {
						case watchEvents <- event:
						default:
						}
					}
				}()
			}
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return result(true)
		case <-deadline.C:
			check()
			return result(len(pending) > 0)
		case event := <-watchEvents:
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, "-status.json") {
				continue
			}
			check()
			if len(pending) == 0 {
				return result(false)
			}
		case <-poll.C:
			check()
			if len(pending) == 0 {
				return result(false)
			}
		}
	}
}
