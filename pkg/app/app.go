// Package app builds the process-wide dependencies from configuration: the database
// handle, object storage, model providers and the pipeline. Its lifecycle belongs to the
// binary that creates it.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Itypecode/E-DAV/pkg/aicheck"
	"github.com/Itypecode/E-DAV/pkg/config"
	"github.com/Itypecode/E-DAV/pkg/decision"
	"github.com/Itypecode/E-DAV/pkg/embed"
	"github.com/Itypecode/E-DAV/pkg/intake"
	"github.com/Itypecode/E-DAV/pkg/ocr"
	"github.com/Itypecode/E-DAV/pkg/pipeline"
	"github.com/Itypecode/E-DAV/pkg/provider"
	"github.com/Itypecode/E-DAV/pkg/similarity"
	"github.com/Itypecode/E-DAV/pkg/storage"
	"github.com/Itypecode/E-DAV/pkg/store"
	"google.golang.org/genai"
	"gorm.io/gorm"
)

type App struct {
	Cfg      config.Config
	DB       *gorm.DB
	Store    *store.Store
	Objects  storage.ObjectStore
	OCR      *ocr.Extractor
	Pipeline *pipeline.Orchestrator
	Runner   *pipeline.Runner
	Intake   *intake.Service

	gemini *provider.Gemini
}

// New connects to the database and wires every component.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, DB: db, Store: store.New(db)}

	switch cfg.StorageDriver {
	case "s3":
		a.Objects, err = storage.NewS3(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.PresignTTL)
	case "local", "":
		a.Objects, err = storage.NewLocal(cfg.UploadBase)
	default:
		err = fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if err != nil {
		return nil, err
	}

	primary, err := a.transcriber(ctx, cfg.OCRPrimary, cfg.OCRPrimaryModel)
	if err != nil {
		return nil, fmt.Errorf("ocr primary: %w", err)
	}
	if primary == nil {
		return nil, fmt.Errorf("ocr primary: OCR_PRIMARY must name a provider")
	}
	fallback, err := a.transcriber(ctx, cfg.OCRFallback, cfg.OCRFallbackModel)
	if err != nil {
		return nil, fmt.Errorf("ocr fallback: %w", err)
	}
	checker, err := a.generator(ctx, cfg.AICheckProvider, cfg.AICheckModel, provider.AICheckSchema)
	if err != nil {
		return nil, fmt.Errorf("ai check: %w", err)
	}
	decider, err := a.generator(ctx, cfg.DecisionProvider, cfg.DecisionModel, provider.DecisionSchema)
	if err != nil {
		return nil, fmt.Errorf("decision: %w", err)
	}
	embedder := provider.NewOpenAICompat("embed", cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel)

	a.OCR = &ocr.Extractor{Primary: primary, Fallback: fallback, Images: a.Objects, Timeout: cfg.ProviderTimeout}
	a.Pipeline = &pipeline.Orchestrator{
		Store:      a.Store,
		OCR:        a.OCR,
		Classifier: &aicheck.Classifier{Provider: checker, Timeout: cfg.ProviderTimeout, MaxChars: 8000},
		Embedder:   &embed.Service{Provider: embedder, Dim: cfg.EmbedDim, Timeout: cfg.ProviderTimeout},
		Similarity: &similarity.Searcher{Source: a.Store},
		Decision:   &decision.Engine{Store: a.Store, Provider: decider, Timeout: cfg.ProviderTimeout, MaxTextChars: 2000},
	}
	a.Runner = pipeline.NewRunner(a.Pipeline, cfg.PipelineTimeout)
	a.Intake = &intake.Service{
		Store:     a.Store,
		Objects:   a.Objects,
		Pipeline:  a.Runner,
		KeyPrefix: cfg.S3Prefix,
		MaxBytes:  cfg.MaxUploadBytes,
	}
	log.Printf("APP ready: storage=%s ocr=%s/%s aicheck=%s decision=%s embed=%s",
		cfg.StorageDriver, cfg.OCRPrimary, cfg.OCRFallback, cfg.AICheckProvider, cfg.DecisionProvider, cfg.EmbedModel)
	return a, nil
}

// Close drains in-flight pipeline runs and closes the database.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.Runner != nil {
		if err := a.Runner.Wait(ctx); err != nil {
			log.Printf("APP pipeline runs cancelled on shutdown: %v", err)
			firstErr = err
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (a *App) geminiClient(ctx context.Context, model string) (*provider.Gemini, error) {
	if a.gemini == nil {
		g, err := provider.NewGemini(ctx, a.Cfg.GeminiAPIKey, model)
		if err != nil {
			return nil, err
		}
		a.gemini = g
	}
	cp := *a.gemini
	cp.Model = model
	return &cp, nil
}

// transcriber returns nil, nil for an empty or "none" provider name.
func (a *App) transcriber(ctx context.Context, name, model string) (ocr.Transcriber, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, nil
	case "gemini":
		g, err := a.geminiClient(ctx, model)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "groq":
		return provider.NewOpenAICompat("groq", a.Cfg.GroqBaseURL, a.Cfg.GroqAPIKey, model), nil
	case "tesseract":
		return ocr.Tesseract{Languages: []string{"eng"}}, nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

type generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

func (a *App) generator(ctx context.Context, name, model string, schema *genai.Schema) (generator, error) {
	switch strings.ToLower(name) {
	case "gemini":
		g, err := a.geminiClient(ctx, model)
		if err != nil {
			return nil, err
		}
		return g.WithSchema(schema), nil
	case "groq":
		return provider.NewOpenAICompat("groq", a.Cfg.GroqBaseURL, a.Cfg.GroqAPIKey, model), nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}
