// Package main is the DeptKB CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/deptkb/deptkb/internal/config"
	"github.com/deptkb/deptkb/internal/embedding"
	"github.com/deptkb/deptkb/internal/metastore"
	"github.com/deptkb/deptkb/internal/models"
	"github.com/deptkb/deptkb/internal/pipeline"
	"github.com/deptkb/deptkb/internal/rawstore"
	"github.com/deptkb/deptkb/internal/retrieval"
	"github.com/deptkb/deptkb/internal/server"
	"github.com/deptkb/deptkb/internal/vector"
	"github.com/deptkb/deptkb/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/deptkb/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used instead.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "upload":
		runUpload()
	case "retrieve":
		runRetrieve()
	case "status":
		runStatus()
	case "delete":
		runDelete()
	case "reindex":
		runReindex()
	case "stats":
		runStats()
	case "version", "--version", "-v":
		fmt.Printf("deptkb version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`DeptKB - department knowledge base with semantic retrieval

Usage:
  deptkb server   [-config path] [-debug]        run the API server
  deptkb upload   -tenant id [flags] <file>      upload a document for ingestion
  deptkb retrieve -tenant id [flags] <query>     semantic search over indexed content
  deptkb status   [flags] <file-id>              show ingestion status for a file
  deptkb delete   [flags] <file-id>              delete a file and all derived data
  deptkb reindex  [flags] <file-id>              re-run ingestion for a file
  deptkb stats    [flags]                        show corpus statistics
  deptkb version                                 print version
  deptkb help                                    print this help
`)
}

// components holds the initialized service graph for the server.
type components struct {
	Raw      rawstore.Store
	Store    metastore.Store
	Embedder embedding.Embedder
	Index    vector.Index
	Coord    *pipeline.Coordinator
	Engine   *retrieval.Engine
}

func (c *components) Close() {
	if c.Coord != nil {
		c.Coord.Release()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	ctx := context.Background()

	var raw rawstore.Store
	switch cfg.Storage.RawBackend {
	case "s3":
		m, err := rawstore.NewMinioStore(ctx, rawstore.MinioConfig{
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			Bucket:    cfg.Storage.S3Bucket,
			UseSSL:    cfg.Storage.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 raw store: %w", err)
		}
		raw = m
	default:
		d, err := rawstore.NewDisk(cfg.Storage.RawPath)
		if err != nil {
			return nil, fmt.Errorf("disk raw store: %w", err)
		}
		raw = d
	}

	store, err := metastore.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}

	var embedder embedding.Embedder
	switch cfg.Embedding.Provider {
	case "mock":
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	default:
		embedder, err = embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     os.Getenv(cfg.Embedding.APIKeyEnv),
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout.Std(),
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("embedder: %w", err)
		}
	}

	var index vector.Index
	switch cfg.Vector.Backend {
	case "qdrant":
		index, err = vector.NewQdrantIndex(vector.QdrantConfig{
			URL:              cfg.Vector.QdrantURL,
			APIKey:           cfg.Vector.QdrantAPIKey,
			CollectionPrefix: cfg.Vector.CollectionPrefix,
			Dimensions:       embedder.Dimensions(),
			Timeout:          cfg.Vector.Timeout.Std(),
		})
	default:
		index, err = vector.NewMemoryIndex(embedder.Dimensions())
	}
	if err != nil {
		_ = embedder.Close()
		store.Close()
		return nil, fmt.Errorf("vector index: %w", err)
	}

	coord, err := pipeline.NewCoordinator(raw, store, embedder, index, pipeline.Config{
		Workers:          cfg.Pipeline.Workers,
		BatchConcurrency: cfg.Pipeline.BatchConcurrency,
		BatchSize:        cfg.Embedding.BatchSize,
		MaxAttempts:      cfg.Pipeline.MaxAttempts,
		RetryBase:        cfg.Pipeline.RetryBase.Std(),
		RetryCap:         cfg.Pipeline.RetryCap.Std(),
		StageTimeout:     cfg.Pipeline.StageTimeout.Std(),
		TargetTokens:     cfg.Pipeline.TargetTokens,
		OverlapTokens:    cfg.Pipeline.OverlapTokens,
	}, pipeline.WithLogger(logger))
	if err != nil {
		_ = index.Close()
		_ = embedder.Close()
		store.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	engine := retrieval.NewEngine(embedder, index, store,
		cfg.Retrieval.DefaultK, cfg.Retrieval.MaxK,
		retrieval.WithLogger(logger))

	return &components{
		Raw:      raw,
		Store:    store,
		Embedder: embedder,
		Index:    index,
		Coord:    coord,
		Engine:   engine,
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer comps.Close()

	srv := server.NewServer(comps.Coord, comps.Engine, comps.Store, comps.Raw, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	tenantID := fs.String("tenant", "", "tenant ID (required)")
	contentType := fs.String("content-type", "", "override the detected content type")
	uploadedBy := fs.String("uploaded-by", "", "optional uploader identity")
	_ = fs.Parse(os.Args[2:])

	if *tenantID == "" || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: deptkb upload -tenant <id> [flags] <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	ct := *contentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(path))
	}
	if ct == "" {
		ct = "text/plain"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err == nil {
		_, err = io.Copy(fw, f)
	}
	if err == nil {
		err = mw.WriteField("content_type", ct)
	}
	if err == nil && *uploadedBy != "" {
		err = mw.WriteField("uploaded_by", *uploadedBy)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build upload: %v\n", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("%s/api/v1/tenants/%s/files", strings.TrimRight(*serverURL, "/"), *tenantID)
	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(out))
		os.Exit(1)
	}
	fmt.Println(strings.TrimSpace(string(out)))
}

func runRetrieve() {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	tenantID := fs.String("tenant", "", "tenant ID (required)")
	k := fs.Int("k", 0, "number of results (0 = server default)")
	outputJSON := fs.Bool("json", false, "print raw JSON response")
	_ = fs.Parse(os.Args[2:])

	if *tenantID == "" || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: deptkb retrieve -tenant <id> [flags] <query>")
		os.Exit(1)
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))

	reqBody, _ := json.Marshal(map[string]interface{}{"query": query, "k": *k})
	url := fmt.Sprintf("%s/api/v1/tenants/%s/retrieve", strings.TrimRight(*serverURL, "/"), *tenantID)
	resp, err := http.Post(url, "application/json", bytes.NewReader(reqBody))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(raw))
		os.Exit(1)
	}
	if *outputJSON {
		fmt.Println(strings.TrimSpace(string(raw)))
		return
	}
	var out struct {
		Results []*models.RetrievedChunk `json:"results"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}
	if len(out.Results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, res := range out.Results {
		fmt.Printf("%d. [%.4f] file=%s chunk=%s\n", i+1, res.Score, res.FileID, res.ChunkID)
		text := res.Text
		if len(text) > 300 {
			text = text[:300] + "..."
		}
		fmt.Printf("   %s\n\n", text)
	}
}

func runStatus() {
	fileAction("status", http.MethodGet, "/api/v1/files/%s/status", http.StatusOK)
}

func runDelete() {
	fileAction("delete", http.MethodDelete, "/api/v1/files/%s", http.StatusNoContent)
}

func runReindex() {
	fileAction("reindex", http.MethodPost, "/api/v1/files/%s/reindex", http.StatusAccepted)
}

// fileAction runs a single file-scoped API call and prints the response.
func fileAction(name, method, pathFmt string, wantStatus int) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: deptkb %s [flags] <file-id>\n", name)
		os.Exit(1)
	}
	url := strings.TrimRight(*serverURL, "/") + fmt.Sprintf(pathFmt, fs.Arg(0))
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		os.Exit(1)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(out))
		os.Exit(1)
	}
	if len(bytes.TrimSpace(out)) > 0 {
		fmt.Println(strings.TrimSpace(string(out)))
	} else {
		fmt.Println("ok")
	}
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(strings.TrimRight(*serverURL, "/") + "/api/v1/stats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(out))
		os.Exit(1)
	}
	fmt.Println(strings.TrimSpace(string(out)))
}
