package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ProductStats summarizes a product's ledger.
type ProductStats struct {
	Product   string `json:"product"`
	Records   int    `json:"records"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Tokens    int    `json:"tokens_est"`
}

// Stats scans every ledger under dataDir and aggregates per product.
// Skipped covers records that completed without stored content, such as
// robots blocks and index-like pages.
func Stats(dataDir string) ([]ProductStats, error) {
	dir := filepath.Join(dataDir, "meta")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger dir: %w", err)
	}

	var out []ProductStats
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		stats, err := scanLedgerStats(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		stats.Product = strings.TrimSuffix(e.Name(), ".jsonl")
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product < out[j].Product })
	return out, nil
}

func scanLedgerStats(path string) (ProductStats, error) {
	var stats ProductStats

	f, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("open ledger %s: %w", path, err)
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
		stats.Records++
		switch {
		case rec.Status == 200 && rec.Error == "":
			stats.Succeeded++
			stats.Tokens += rec.ContentTokens
		case rec.Status == 200:
			stats.Skipped++
		case rec.Error == "robots-disallow":
			stats.Skipped++
		default:
			stats.Failed++
		}
	}
	return stats, scanner.Err()
}
