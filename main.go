package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fabfab/rainbow-agent/agent"
	"github.com/fabfab/rainbow-agent/api"
	"github.com/fabfab/rainbow-agent/config"
	"github.com/fabfab/rainbow-agent/database"
	"github.com/fabfab/rainbow-agent/embeddings"
	"github.com/fabfab/rainbow-agent/ingestion"
	"github.com/fabfab/rainbow-agent/knowledge"
	"github.com/fabfab/rainbow-agent/llm"
	"github.com/fabfab/rainbow-agent/retrieval"
	"github.com/fabfab/rainbow-agent/search"
	"github.com/fabfab/rainbow-agent/store"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	switch os.Args[1] {
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "chat":
		chatCmd(cfg, logger, os.Args[2:])
	case "collections":
		collectionsCmd(cfg, logger)
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// stack bundles the long-lived backends a command needs. close releases
// them in reverse construction order.
type stack struct {
	chunks   store.Store
	embedder embeddings.Embedder
	graph    *knowledge.Graph
	close    func(context.Context)
}

func newStack(ctx context.Context, cfg config.Config, logger *log.Logger) (*stack, error) {
	closers := make([]func(context.Context), 0, 2)
	closeAll := func(ctx context.Context) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](ctx)
		}
	}

	var chunks store.Store
	switch cfg.StoreDriver {
	case config.StoreMemory:
		chunks = store.NewMemory()
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		closers = append(closers, func(context.Context) { pool.Close() })
		if err := database.EnsureSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			closeAll(ctx)
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		chunks = store.NewPostgres(pool)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}

	var graph *knowledge.Graph
	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			logger.Printf("neo4j unavailable, continuing without knowledge graph: %v", err)
		} else {
			closers = append(closers, func(ctx context.Context) { _ = driver.Close(ctx) })
			graph = knowledge.NewGraph(driver)
		}
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		closeAll(ctx)
		return nil, fmt.Errorf("embedder setup: %w", err)
	}

	return &stack{chunks: chunks, embedder: embedder, graph: graph, close: closeAll}, nil
}

func newSessionFactory(cfg config.Config, st *stack, llmClient llm.Client, logger *log.Logger) func(collection string) *agent.Session {
	retriever := retrieval.NewRetriever(st.chunks, st.embedder, logger, retrieval.Config{
		FetchK:              cfg.Retrieval.FetchK,
		RedundancyThreshold: cfg.Retrieval.RedundancyThreshold,
		RelevanceThreshold:  cfg.Retrieval.RelevanceThreshold,
		RerankLimit:         cfg.Retrieval.RerankLimit,
	})
	local := agent.NewLocalAnswer(retriever, llmClient, st.graph, retrieval.EstimateCounter{}, cfg.Retrieval.TokenBudget, logger)
	web := search.NewDuckDuckGo(search.Options{Endpoint: cfg.Search.Endpoint, MaxResults: cfg.Search.MaxResults})

	return func(collection string) *agent.Session {
		return agent.NewSession(llmClient, local, web, logger, agent.Options{
			Collection:    collection,
			MaxIterations: cfg.Agent.MaxIterations,
		})
	}
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	path := flags.String("path", cfg.DataDir, "file or directory of documents to ingest")
	collection := flags.String("collection", cfg.Collection, "target collection name")
	chunkSize := flags.Int("chunk-size", cfg.Ingestion.ChunkSize, "chunk size in characters")
	chunkOverlap := flags.Int("chunk-overlap", cfg.Ingestion.ChunkOverlap, "chunk overlap in characters")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := newStack(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer st.close(ctx)

	svc := ingestion.NewService(st.chunks, st.embedder, st.graph, logger, cfg.Embeddings.BatchSize)
	logger.Printf("ingesting %s into collection %q using %s/%s embeddings",
		*path, *collection, strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)

	summary, err := svc.Ingest(ctx, ingestion.Request{
		SourcePath:   *path,
		Collection:   *collection,
		ChunkSize:    *chunkSize,
		ChunkOverlap: *chunkOverlap,
	})
	if err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}
	logger.Printf("done: %d documents, %d chunks, %d skipped", summary.Documents, summary.Chunks, summary.Skipped)
}

func chatCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	collection := flags.String("collection", cfg.Collection, "collection to answer from")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse chat flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := newStack(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer st.close(ctx)

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	session := newSessionFactory(cfg, st, llmClient, logger)(*collection)

	fmt.Printf("Chatting against collection %q. Empty line or Ctrl-D exits.\n", *collection)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			break
		}

		answer, err := session.Respond(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Printf("chat failed: %v", err)
			continue
		}
		fmt.Println(answer)
		fmt.Println()
	}
	if err := scanner.Err(); err != nil {
		logger.Fatalf("read question: %v", err)
	}
}

func collectionsCmd(cfg config.Config, logger *log.Logger) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := newStack(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer st.close(ctx)

	names, err := st.chunks.ListCollections(ctx)
	if err != nil {
		logger.Fatalf("list collections: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("no collections")
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.API.Addr, "listen address")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := newStack(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer st.close(ctx)

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	server := api.New(cfg, api.Deps{
		Ingestion:  ingestion.NewService(st.chunks, st.embedder, st.graph, logger, cfg.Embeddings.BatchSize),
		Chunks:     st.chunks,
		NewSession: newSessionFactory(cfg, st, llmClient, logger),
	}, logger)

	httpServer := &http.Server{Addr: *addr, Handler: server}
	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	logger.Printf("listening on %s", *addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("serve: %v", err)
	}
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	collection := flags.String("collection", cfg.Collection, "collection to delete")
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Printf("This will permanently delete collection %q. Continue? [y/N]: ", *collection)
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := newStack(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer st.close(ctx)

	if err := st.chunks.DeleteCollection(ctx, *collection); err != nil {
		logger.Fatalf("delete collection: %v", err)
	}
	if st.graph != nil {
		if err := st.graph.Purge(ctx, *collection); err != nil {
			logger.Printf("purge knowledge graph: %v", err)
		}
	}

	logger.Printf("collection %q removed", *collection)
}

func printUsage() {
	fmt.Println("Usage: rainbow-agent <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  ingest       Ingest documents into a named collection")
	fmt.Println("  chat         Interactive agent chat against a collection")
	fmt.Println("  collections  List live collections")
	fmt.Println("  serve        Run the HTTP API")
	fmt.Println("  clear        Delete a collection")
}
