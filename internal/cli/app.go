package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/docchat/internal/artifacts"
	"github.com/nickcecere/docchat/internal/chunker"
	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/embeddings"
	"github.com/nickcecere/docchat/internal/extract"
	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/llm"
	"github.com/nickcecere/docchat/internal/manifest"
	"github.com/nickcecere/docchat/internal/search"
	"github.com/nickcecere/docchat/internal/store"
	"github.com/nickcecere/docchat/internal/tasks"
)

// appOptions selects which parts of the pipeline a command needs.
type appOptions struct {
	// Models builds the embedding and LLM clients along with everything
	// that depends on them. Listing and removing files need neither.
	Models bool

	// Derive queues summary derivation after each ingest.
	Derive bool
}

// app holds the wired pipeline shared by the commands.
type app struct {
	cfg      *config.Config
	index    store.Index
	manifest *manifest.Store
	sink     artifacts.Sink
	queue    *tasks.Queue

	embedder embeddings.Service
	llm      llm.Service
	indexer  *indexer.Indexer
	composer *search.Composer
	mindmap  *artifacts.Mindmap
	notes    *artifacts.Notes
}

// newApp wires the pipeline from configuration. Callers must Close it.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, manifest: manifest.New(cfg.Storage.DataDir)}
	defer func() {
		if err != nil {
			a.Close(context.Background())
			a = nil
		}
	}()

	a.index, err = store.NewIndex(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	if cfg.Artifacts.Backend != "" {
		a.sink, err = artifacts.NewSink(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact store: %w", err)
		}
	}

	if !opts.Models {
		a.indexer = indexer.New(a.index, nil, nil, nil, a.manifest, indexer.Options{Sink: a.sink})
		return a, nil
	}

	a.embedder, err = embeddings.NewService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}
	a.llm, err = llm.NewService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM service: %w", err)
	}

	tok, err := chunker.NewTokenizer(cfg.Chunking.Tokenizer, cfg.Chunking.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer: %w", err)
	}
	chunks, err := chunker.New(tok, chunker.Options{
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
		SliceSize:    cfg.Chunking.SliceSize,
		SliceStride:  cfg.Chunking.SliceStride,
		Workers:      cfg.Chunking.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	ocr, err := newOCR(ctx, cfg)
	if err != nil {
		return nil, err
	}
	extractor := extract.New(extract.OpenFitz, ocr, extract.Options{
		ScannedThreshold: cfg.Extraction.ScannedThreshold,
		Workers:          cfg.Extraction.Workers,
	})

	gen := artifacts.GenOptions{
		Completion: llm.OptionsFromConfig(cfg),
		Retry:      llm.RetryPolicyFromConfig(cfg),
	}
	a.mindmap = artifacts.NewMindmap(a.llm, gen)
	a.notes = artifacts.NewNotes(a.llm, gen)

	idxOpts := indexer.Options{
		Sink:     a.sink,
		MaxBytes: cfg.Server.MaxUploadBytes,
	}
	if opts.Derive && a.sink != nil {
		a.queue, err = tasks.New(tasks.OptionsFromConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to start task queue: %w", err)
		}
		idxOpts.Tasks = a.queue
		idxOpts.Deriver = artifacts.NewDeriver(a.index, a.sink, artifacts.NewSummarizer(a.llm, gen))
	}

	a.indexer = indexer.New(a.index, a.embedder, chunks, extractor, a.manifest, idxOpts)
	a.composer = search.NewComposer(a.index, a.embedder, a.llm, search.OptionsFromConfig(cfg))

	log.Debug("Pipeline ready",
		"index", a.index.Backend(),
		"embeddings", a.embedder.ModelName(),
		"llm", a.llm.ModelName(),
		"ocr", cfg.Extraction.OCR,
		"derive", a.queue != nil,
	)

	return a, nil
}

// newOCR creates the engine for scanned documents; "none" disables OCR.
func newOCR(ctx context.Context, cfg *config.Config) (extract.OCR, error) {
	switch cfg.Extraction.OCR {
	case "tesseract":
		return &extract.TesseractOCR{
			Path:       cfg.Extraction.TesseractPath,
			Languages:  cfg.Extraction.OCRLanguages,
			Resolution: cfg.Extraction.OCRDPI,
			Workers:    cfg.Extraction.Workers,
		}, nil
	case "vision":
		model, err := llm.NewVision(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create vision model: %w", err)
		}
		return &extract.VisionOCR{
			Model:       model,
			Resolution:  cfg.Extraction.VisionDPI,
			BatchSize:   cfg.Extraction.VisionBatchSize,
			Concurrency: cfg.Extraction.VisionConcurrency,
		}, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported OCR engine: %s", cfg.Extraction.OCR)
	}
}

// Close drains the task queue, then releases the stores. ctx bounds how
// long queued derivations may keep running.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain task queue: %w", err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close artifact store: %w", err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close index: %w", err))
		}
	}
	return errors.Join(errs...)
}

// pendingTasks counts queued and running tasks.
func (a *app) pendingTasks() int {
	if a.queue == nil {
		return 0
	}
	n := 0
	for _, t := range a.queue.List() {
		if !t.Status.Done() {
			n++
		}
	}
	return n
}
