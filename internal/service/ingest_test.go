package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sahaay-labs/sahaay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChunkIndex records everything fed into it.
type fakeChunkIndex struct {
	chunks   []domain.Chunk
	batches  int
	resets   int
	addErr   error
	resetErr error
}

func (f *fakeChunkIndex) Add(ctx context.Context, chunks []domain.Chunk) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.chunks = append(f.chunks, chunks...)
	f.batches++
	return nil
}

func (f *fakeChunkIndex) DeleteAll(ctx context.Context) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets++
	f.chunks = nil
	return nil
}

func TestIngestService_IngestDocuments(t *testing.T) {
	index := &fakeChunkIndex{}
	svc := NewIngestService(index)

	docs := []SourceDocument{
		{Source: "sop-upi.md", Title: "UPI fraud SOP", Category: "financial_fraud", Body: "Call 1930 first. Then file at the portal."},
		{Source: "empty.md", Body: "   "},
		{Source: "faq.json", Title: "General FAQ", Body: "Preserve screenshots and transaction IDs."},
	}

	n, err := svc.IngestDocuments(context.Background(), docs, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, index.chunks, 2)

	first := index.chunks[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "sop-upi.md", first.Source)
	assert.Equal(t, "UPI fraud SOP", first.Title)
	assert.Equal(t, "financial_fraud", first.Category)
	assert.Contains(t, first.Text, "1930")
	assert.Equal(t, 0, index.resets)
}

func TestIngestService_IngestDocuments_ResetClearsIndexFirst(t *testing.T) {
	index := &fakeChunkIndex{}
	svc := NewIngestService(index)

	_, err := svc.IngestDocuments(context.Background(), []SourceDocument{
		{Source: "a.md", Body: "content"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, index.resets)
	assert.Len(t, index.chunks, 1)
}

func TestIngestService_IngestDocuments_ResetFailureAborts(t *testing.T) {
	index := &fakeChunkIndex{resetErr: errors.New("db down")}
	svc := NewIngestService(index)

	n, err := svc.IngestDocuments(context.Background(), []SourceDocument{
		{Source: "a.md", Body: "content"},
	}, true)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Empty(t, index.chunks)
}

func TestIngestService_IngestDocuments_LongDocumentIsChunkedAndBatched(t *testing.T) {
	index := &fakeChunkIndex{}
	svc := NewIngestService(index)

	// ~100k chars forces many chunks and more than one insert batch.
	body := strings.Repeat("Report the incident to the cyber cell without delay. ", 2000)
	n, err := svc.IngestDocuments(context.Background(), []SourceDocument{
		{Source: "long.md", Body: body},
	}, false)
	require.NoError(t, err)
	assert.Greater(t, n, 1)
	assert.Greater(t, index.batches, 1)

	for _, c := range index.chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), DefaultChunkConfig().MaxChars)
		assert.Equal(t, "long.md", c.Source)
	}
}

func TestIngestService_IngestDocuments_NoDocuments(t *testing.T) {
	index := &fakeChunkIndex{}
	svc := NewIngestService(index)

	n, err := svc.IngestDocuments(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, index.batches)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	jsonDoc := `{"source":"upi-sop","title":"UPI SOP","category":"financial_fraud","url":"https://cybercrime.gov.in","body":"Call 1930."}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upi.json"), []byte(jsonDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "phishing_guide.md"), []byte("Never share your OTP."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("Preserve evidence."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.png"), []byte{0x89}, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	docs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	bySource := make(map[string]SourceDocument, len(docs))
	for _, d := range docs {
		bySource[d.Source] = d
	}

	upi, ok := bySource["upi-sop"]
	require.True(t, ok)
	assert.Equal(t, "UPI SOP", upi.Title)
	assert.Equal(t, "financial_fraud", upi.Category)

	md, ok := bySource["phishing_guide.md"]
	require.True(t, ok)
	assert.Equal(t, "phishing guide", md.Title)
	assert.Equal(t, "Never share your OTP.", md.Body)
}

func TestLoadDir_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))

	_, err := LoadDir(dir)
	assert.Error(t, err)
}

func TestLoadDir_MissingDir(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

// fakeLister is an in-memory ObjectLister.
type fakeLister struct {
	objects map[string][]byte
	listErr error
}

func (f *fakeLister) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeLister) GetObject(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func TestLoadS3(t *testing.T) {
	lister := &fakeLister{objects: map[string][]byte{
		"corpus/guide.md": []byte("File at the portal."),
		"corpus/skip.bin": {0x00},
		"elsewhere/o.md":  []byte("outside prefix"),
		"corpus/doc.json": []byte(`{"source":"doc","body":"Call 1930."}`),
	}}

	docs, err := LoadS3(context.Background(), lister, "corpus/")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestLoadS3_ListFailure(t *testing.T) {
	lister := &fakeLister{listErr: errors.New("access denied")}

	_, err := LoadS3(context.Background(), lister, "corpus/")
	assert.Error(t, err)
}
