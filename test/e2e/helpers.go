//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sahaay-labs/sahaay/internal/api/handlers"
	"github.com/sahaay-labs/sahaay/internal/cache"
	"github.com/sahaay-labs/sahaay/internal/classify"
	"github.com/sahaay-labs/sahaay/internal/llm"
	"github.com/sahaay-labs/sahaay/internal/openai"
	"github.com/sahaay-labs/sahaay/internal/repository"
	"github.com/sahaay-labs/sahaay/internal/server"
	"github.com/sahaay-labs/sahaay/internal/service"
	"github.com/sahaay-labs/sahaay/internal/testutil"
)

const embeddingDims = 768

// cannedAnswer is what the fake local model returns for every prompt. It must
// parse into a StructuredAnswer.
const cannedAnswer = `{
  "immediate_actions": ["Call the national cybercrime helpline 1930 immediately."],
  "steps": ["File a complaint on https://cybercrime.gov.in", "Inform your bank about the fraudulent transaction."],
  "evidence_checklist": ["Transaction ID", "Screenshots of the payment"],
  "links": [{"label": "National Cyber Crime Reporting Portal", "url": "https://cybercrime.gov.in"}]
}`

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	EmbedServer  *httptest.Server
	ModelServer  *httptest.Server
	Store        *cache.DiskStore
	RetrievalSvc *service.RetrievalService
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment: a pgvector container, fake
// embedding and local model servers, and the HTTP server wired end to end.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	embedServer := startFakeEmbeddingServer()
	modelServer := startFakeModelServer()

	store, err := cache.Open(t.TempDir(), 128)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser, retrievalSvc := startServer(t, pool, store, embedServer.URL, modelServer.URL, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		EmbedServer:  embedServer,
		ModelServer:  modelServer,
		Store:        store,
		RetrievalSvc: retrievalSvc,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Store != nil {
		e.Store.Close()
	}
	if e.EmbedServer != nil {
		e.EmbedServer.Close()
	}
	if e.ModelServer != nil {
		e.ModelServer.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// startFakeEmbeddingServer serves an OpenAI-compatible embeddings endpoint
// returning a deterministic vector per text, so every query matches every
// indexed chunk with score 1.0.
func startFakeEmbeddingServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type embeddingData struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Object string          `json:"object"`
			Data   []embeddingData `json:"data"`
			Model  string          `json:"model"`
		}{
			Object: "list",
			Model:  "text-embedding-3-small",
		}

		vec := make([]float32, embeddingDims)
		vec[0] = 1
		for i := range req.Input {
			resp.Data = append(resp.Data, embeddingData{Object: "embedding", Index: i, Embedding: vec})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

// startFakeModelServer speaks the local model protocol on /api/generate,
// returning cannedAnswer either whole or as streamed frames.
func startFakeModelServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}

		var req struct {
			Stream bool `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		if !req.Stream {
			json.NewEncoder(w).Encode(map[string]any{"response": cannedAnswer, "done": true})
			return
		}

		// Split the answer into a few frames to exercise stream assembly.
		const frameSize = 64
		for start := 0; start < len(cannedAnswer); start += frameSize {
			end := start + frameSize
			if end > len(cannedAnswer) {
				end = len(cannedAnswer)
			}
			json.NewEncoder(w).Encode(map[string]any{"response": cannedAnswer[start:end], "done": false})
		}
		json.NewEncoder(w).Encode(map[string]any{"response": "", "done": true})
	}))
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// startServer wires the full pipeline and starts the HTTP server
func startServer(t *testing.T, pool *pgxpool.Pool, store *cache.DiskStore, embedURL, modelURL string, port int) (string, func(), *service.RetrievalService) {
	chunkRepo := repository.NewChunkRepository(pool)
	queryLogRepo := repository.NewQueryLogRepository(pool)

	embeddingClient := openai.NewClientWithConfig(openai.Config{
		APIKey:              "test-key",
		BaseURL:             embedURL,
		EmbeddingDimensions: embeddingDims,
	})
	embeddingSvc := service.NewEmbeddingService(embeddingClient, store)

	retrievalSvc := service.NewRetrievalService(chunkRepo, embeddingSvc, store)

	local := llm.NewLocalProvider(modelURL, "test-model", 10*time.Second)
	generationSvc := service.NewGenerationService(nil, local)

	answerSvc := service.NewAnswerService(retrievalSvc, generationSvc, classify.New(), store, queryLogRepo)

	router := server.NewRouter(server.RouterConfig{
		AskHandler:   handlers.NewAskHandler(answerSvc),
		CacheHandler: handlers.NewCacheHandler(store),
		IndexHandler: handlers.NewIndexHandler(retrievalSvc),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, retrievalSvc
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
