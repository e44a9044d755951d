package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sahaay-labs/sahaay/internal/domain"
)

// SourceDocument is one guidance document (SOP, FAQ, advisory) before
// chunking.
type SourceDocument struct {
	Source   string `json:"source"`
	Title    string `json:"title"`
	Category string `json:"category"`
	URL      string `json:"url"`
	Body     string `json:"body"`
}

// ChunkIndex is the retrieval-stage surface consumed by ingestion.
type ChunkIndex interface {
	Add(ctx context.Context, chunks []domain.Chunk) error
	DeleteAll(ctx context.Context) error
}

// ObjectLister fetches corpus documents from object storage.
type ObjectLister interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// IngestService chunks source documents and feeds them into the vector index.
type IngestService struct {
	index    ChunkIndex
	chunkCfg ChunkConfig
}

// NewIngestService creates a new IngestService instance
func NewIngestService(index ChunkIndex) *IngestService {
	return &IngestService{
		index:    index,
		chunkCfg: DefaultChunkConfig(),
	}
}

// IngestDocuments chunks and indexes docs. When reset is true the index is
// cleared first. Returns the number of chunks indexed.
func (s *IngestService) IngestDocuments(ctx context.Context, docs []SourceDocument, reset bool) (int, error) {
	if reset {
		if err := s.index.DeleteAll(ctx); err != nil {
			return 0, fmt.Errorf("failed to reset index: %w", err)
		}
	}

	var chunks []domain.Chunk
	for _, doc := range docs {
		if strings.TrimSpace(doc.Body) == "" {
			log.Printf("ingest: skipping empty document %q", doc.Source)
			continue
		}
		for _, text := range chunkText(doc.Body, s.chunkCfg) {
			chunks = append(chunks, domain.Chunk{
				ID:       uuid.NewString(),
				Text:     text,
				Source:   doc.Source,
				Title:    doc.Title,
				Category: doc.Category,
				URL:      doc.URL,
			})
		}
	}

	if len(chunks) == 0 {
		return 0, nil
	}

	// Batch inserts to keep each embedding call bounded.
	const batchSize = 32
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.index.Add(ctx, chunks[start:end]); err != nil {
			return start, err
		}
	}

	return len(chunks), nil
}

// LoadDir reads corpus documents from a directory: .json files hold a
// SourceDocument, .md files become one document titled by filename.
func LoadDir(dir string) ([]SourceDocument, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus dir: %w", err)
	}

	var docs []SourceDocument
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		doc, ok, err := parseDocument(entry.Name(), func() ([]byte, error) { return os.ReadFile(path) })
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// LoadS3 reads corpus documents from object storage under prefix.
func LoadS3(ctx context.Context, lister ObjectLister, prefix string) ([]SourceDocument, error) {
	keys, err := lister.ListKeys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list corpus objects: %w", err)
	}

	var docs []SourceDocument
	for _, key := range keys {
		doc, ok, err := parseDocument(key, func() ([]byte, error) { return lister.GetObject(ctx, key) })
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func parseDocument(name string, read func() ([]byte, error)) (SourceDocument, bool, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		data, err := read()
		if err != nil {
			return SourceDocument{}, false, fmt.Errorf("failed to read %s: %w", name, err)
		}
		var doc SourceDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return SourceDocument{}, false, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		if doc.Source == "" {
			doc.Source = name
		}
		return doc, true, nil
	case ".md", ".txt":
		data, err := read()
		if err != nil {
			return SourceDocument{}, false, fmt.Errorf("failed to read %s: %w", name, err)
		}
		base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		return SourceDocument{
			Source: name,
			Title:  strings.ReplaceAll(base, "_", " "),
			Body:   string(data),
		}, true, nil
	default:
		return SourceDocument{}, false, nil
	}
}
