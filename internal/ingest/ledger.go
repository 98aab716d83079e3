package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FetchRecord is one line of a product's fetch ledger. The ledger is
// append-only JSONL; resume reads it back to decide what to skip.
type FetchRecord struct {
	URL             string `json:"url"`
	Status          int    `json:"status"`
	FinalURL        string `json:"final_url,omitempty"`
	CanonicalURL    string `json:"canonical_url,omitempty"`
	Title           string `json:"title,omitempty"`
	Product         string `json:"product"`
	Version         string `json:"version,omitempty"`
	FetchedAt       string `json:"fetched_at"`
	HashHTML        string `json:"hash_html,omitempty"`
	HashMD          string `json:"hash_md,omitempty"`
	PathHTML        string `json:"path_html,omitempty"`
	PathMD          string `json:"path_md,omitempty"`
	ContentTokens   int    `json:"content_tokens_est,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Ledger appends FetchRecords to meta/<product>.jsonl under the data dir.
type Ledger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
}

// OpenLedger opens (creating if needed) the append-only ledger for a product.
func OpenLedger(dataDir, product string) (*Ledger, error) {
	dir := filepath.Join(dataDir, "meta")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	path := filepath.Join(dir, product+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	return &Ledger{file: f, enc: json.NewEncoder(f), path: path}, nil
}

// Append writes one record as a single JSONL line.
func (l *Ledger) Append(rec FetchRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enc.Encode(rec); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}
	return nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Seen summarizes previous runs for resume. URLs holds every request URL
// that reached a terminal 200 record; Canonicals holds every canonical URL
// already stored, so duplicate pages are not re-ingested.
type Seen struct {
	URLs       map[string]bool
	Canonicals map[string]bool
}

// ReadSeen scans an existing ledger. A missing file yields an empty Seen.
// Malformed lines are skipped so a partially written tail never blocks
// a resume.
func ReadSeen(dataDir, product string) (Seen, error) {
	seen := Seen{
		URLs:       make(map[string]bool),
		Canonicals: make(map[string]bool),
	}

	path := filepath.Join(dataDir, "meta", product+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return seen, nil
		}
		return seen, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec FetchRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Status == 200 {
			seen.URLs[rec.URL] = true
			if rec.CanonicalURL != "" {
				seen.Canonicals[rec.CanonicalURL] = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return seen, fmt.Errorf("scan ledger %s: %w", path, err)
	}
	return seen, nil
}
