// Package pipeline runs the batch stages that turn collected Markdown into
// indexed chunks: chunk, embed, index. Stages couple through JSONL files
// under the data dir, so each stage can be rerun independently.
package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/visionllm/ingestor/internal/embedding"
	"github.com/visionllm/ingestor/internal/ingest"
)

// Chunk is one indexable unit of a document. Chunking is currently whole
// document: one chunk per page with a trivial heading path.
type Chunk struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Product   string    `json:"product"`
	DocType   string    `json:"doc_type,omitempty"`
	Version   string    `json:"version,omitempty"`
	UpdatedAt string    `json:"updated_at"`
	HPath     string    `json:"h_path"`
	ContentMD string    `json:"content_md"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// ChunkStore persists embedded chunks into a search backend.
type ChunkStore interface {
	UpsertChunk(ctx context.Context, c Chunk) error
}

// Pipeline addresses the stage files under one data dir.
type Pipeline struct {
	dataDir string
	log     *slog.Logger
}

func New(dataDir string, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{dataDir: dataDir, log: log}
}

// Chunk reads ledgers for the selected product ("all" for every product),
// loads each successfully stored Markdown artifact and writes
// chunks/<product>.chunks.jsonl. Previous chunk output for the selection is
// cleared first, so the stage is idempotent.
func (p *Pipeline) Chunk(ctx context.Context, product string) (int, error) {
	ledgers, err := p.selectFiles("meta", ".jsonl", product)
	if err != nil {
		return 0, err
	}

	outDir := filepath.Join(p.dataDir, "chunks")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create chunks dir: %w", err)
	}
	if err := p.clear(outDir, ".chunks.jsonl", product); err != nil {
		return 0, err
	}

	store := ingest.NewStorage(p.dataDir)
	now := time.Now().UTC().Format(time.RFC3339)

	count := 0
	for _, ledger := range ledgers {
		prod := strings.TrimSuffix(filepath.Base(ledger), ".jsonl")
		records, err := readLedger(ledger)
		if err != nil {
			return count, err
		}

		out, err := os.Create(filepath.Join(outDir, prod+".chunks.jsonl"))
		if err != nil {
			return count, fmt.Errorf("create chunk output: %w", err)
		}
		enc := json.NewEncoder(out)

		for _, rec := range latestByURL(records) {
			if rec.Error != "" || rec.PathMD == "" {
				continue
			}
			md, err := store.Read(rec.PathMD)
			if err != nil {
				p.log.WarnContext(ctx, "markdown artifact missing", "url", rec.URL, "path", rec.PathMD)
				continue
			}
			chunk := Chunk{
				ID:        uuid.NewString(),
				URL:       rec.URL,
				Title:     rec.Title,
				Product:   rec.Product,
				Version:   rec.Version,
				UpdatedAt: now,
				HPath:     "H1:",
				ContentMD: string(md),
			}
			if err := enc.Encode(chunk); err != nil {
				out.Close()
				return count, fmt.Errorf("write chunk: %w", err)
			}
			count++
		}
		if err := out.Close(); err != nil {
			return count, err
		}
	}

	p.log.InfoContext(ctx, "chunk stage finished", "product", product, "chunks", count)
	return count, nil
}

// Embed reads chunk files, attaches an embedding to each chunk and writes
// embedded/<product>.embedded.jsonl. Output for the selection is cleared
// first.
func (p *Pipeline) Embed(ctx context.Context, embedder embedding.Embedder, product string) (int, error) {
	inputs, err := p.selectFiles("chunks", ".chunks.jsonl", product)
	if err != nil {
		return 0, err
	}

	outDir := filepath.Join(p.dataDir, "embedded")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create embedded dir: %w", err)
	}
	if err := p.clear(outDir, ".embedded.jsonl", product); err != nil {
		return 0, err
	}

	count := 0
	for _, in := range inputs {
		prod := strings.TrimSuffix(filepath.Base(in), ".chunks.jsonl")
		out, err := os.Create(filepath.Join(outDir, prod+".embedded.jsonl"))
		if err != nil {
			return count, fmt.Errorf("create embedded output: %w", err)
		}
		enc := json.NewEncoder(out)

		err = eachChunk(in, func(c Chunk) error {
			vec, err := embedder.Embed(ctx, c.ContentMD)
			if err != nil {
				return fmt.Errorf("embed chunk %s: %w", c.ID, err)
			}
			c.Embedding = vec
			if err := enc.Encode(c); err != nil {
				return fmt.Errorf("write embedded chunk: %w", err)
			}
			count++
			return nil
		})
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return count, err
		}
	}

	p.log.InfoContext(ctx, "embed stage finished", "product", product, "chunks", count)
	return count, nil
}

// Index upserts embedded chunks into the store. Upserts are keyed by chunk
// id, so reruns overwrite rather than duplicate.
func (p *Pipeline) Index(ctx context.Context, store ChunkStore, product string) (int, error) {
	inputs, err := p.selectFiles("embedded", ".embedded.jsonl", product)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, in := range inputs {
		err := eachChunk(in, func(c Chunk) error {
			if err := store.UpsertChunk(ctx, c); err != nil {
				return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
			}
			count++
			return nil
		})
		if err != nil {
			return count, err
		}
	}

	p.log.InfoContext(ctx, "index stage finished", "product", product, "chunks", count)
	return count, nil
}

// selectFiles lists stage files under dir matching the product selection,
// sorted for deterministic processing.
func (p *Pipeline) selectFiles(dir, suffix, product string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.dataDir, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s dir: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		prod := strings.TrimSuffix(name, suffix)
		if product != "" && product != "all" && prod != product {
			continue
		}
		files = append(files, filepath.Join(p.dataDir, dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Pipeline) clear(dir, suffix, product string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		prod := strings.TrimSuffix(name, suffix)
		if product != "" && product != "all" && prod != product {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
	}
	return nil
}

// latestByURL keeps the last record per URL. Ledgers are append-only, so
// reruns without resume can leave several records for one page; the newest
// wins.
func latestByURL(records []ingest.FetchRecord) []ingest.FetchRecord {
	index := make(map[string]int, len(records))
	var out []ingest.FetchRecord
	for _, rec := range records {
		if i, ok := index[rec.URL]; ok {
			out[i] = rec
			continue
		}
		index[rec.URL] = len(out)
		out = append(out, rec)
	}
	return out
}

func readLedger(path string) ([]ingest.FetchRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()

	var records []ingest.FetchRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ingest.FetchRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func eachChunk(path string, fn func(Chunk) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(line, &c); err != nil {
			return fmt.Errorf("decode chunk in %s: %w", path, err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return scanner.Err()
}
