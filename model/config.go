package model

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetrievalConfig tunes the retrieval engine.
type RetrievalConfig struct {
	// TopK is the default number of evidence items returned.
	TopK int `yaml:"top_k"`
	// CandidateLimit caps keyword candidates fetched before scoring.
	CandidateLimit int `yaml:"candidate_limit"`
	// SnippetLength bounds the exposed snippet of every source.
	SnippetLength int `yaml:"snippet_length"`
	// MinSimilarity drops vector matches below this cosine score.
	MinSimilarity float64 `yaml:"min_similarity"`
	// Hybrid blend weights and term-presence bonus.
	VectorWeight  float64 `yaml:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight"`
	BonusPerTerm  float64 `yaml:"bonus_per_term"`
	BonusCap      float64 `yaml:"bonus_cap"`
}

// Policy holds the orchestrator's routing policy. The relevance threshold
// and summary trigger are configuration, not hard-coded behavior.
type Policy struct {
	// MinRelevance is the top-result score required to route doc_rag.
	MinRelevance float64 `yaml:"min_relevance"`
	// SummaryTrigger is a regular expression matched against the question;
	// together with a document scope it selects the summary route.
	SummaryTrigger string `yaml:"summary_trigger"`
	// MaxEvidence caps evidence blocks passed to answer synthesis.
	MaxEvidence int `yaml:"max_evidence"`
	// GenerationSnippet caps snippet length in generation context.
	GenerationSnippet int `yaml:"generation_snippet"`
}

// IngestionConfig tunes the ingestion worker pool.
type IngestionConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	MaxChars     int           `yaml:"max_chars"`
	OverlapChars int           `yaml:"overlap_chars"`
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// IdempotencyConfig tunes the request deduplication window.
type IdempotencyConfig struct {
	Wait         time.Duration `yaml:"wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
	TTL          time.Duration `yaml:"ttl"`
}

// Config is the root configuration.
type Config struct {
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Policy      Policy            `yaml:"policy"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
}

// DefaultConfig returns the documented default configuration.
func DefaultConfig() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			TopK:           5,
			CandidateLimit: 50,
			SnippetLength:  300,
			MinSimilarity:  0.25,
			VectorWeight:   0.75,
			KeywordWeight:  0.25,
			BonusPerTerm:   0.05,
			BonusCap:       0.25,
		},
		Policy: Policy{
			MinRelevance:      0.25,
			SummaryTrigger:    `(?i)\b(summar(y|ize|ise)|overview|tl;?dr)\b`,
			MaxEvidence:       5,
			GenerationSnippet: 800,
		},
		Ingestion: IngestionConfig{
			Workers:      2,
			QueueSize:    64,
			MaxChars:     3500,
			OverlapChars: 300,
			EmbedTimeout: 30 * time.Second,
			RetryBackoff: 500 * time.Millisecond,
		},
		Idempotency: IdempotencyConfig{
			Wait:         2 * time.Second,
			PollInterval: 50 * time.Millisecond,
			TTL:          5 * time.Minute,
		},
	}
}

// LoadConfig reads a YAML config from path, falling back to defaults when
// the file does not exist. Zero values are filled with defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.CandidateLimit <= 0 {
		cfg.Retrieval.CandidateLimit = def.Retrieval.CandidateLimit
	}
	if cfg.Retrieval.SnippetLength <= 0 {
		cfg.Retrieval.SnippetLength = def.Retrieval.SnippetLength
	}
	if cfg.Retrieval.MinSimilarity <= 0 {
		cfg.Retrieval.MinSimilarity = def.Retrieval.MinSimilarity
	}
	if cfg.Retrieval.VectorWeight <= 0 {
		cfg.Retrieval.VectorWeight = def.Retrieval.VectorWeight
	}
	if cfg.Retrieval.KeywordWeight <= 0 {
		cfg.Retrieval.KeywordWeight = def.Retrieval.KeywordWeight
	}
	if cfg.Retrieval.BonusPerTerm <= 0 {
		cfg.Retrieval.BonusPerTerm = def.Retrieval.BonusPerTerm
	}
	if cfg.Retrieval.BonusCap <= 0 {
		cfg.Retrieval.BonusCap = def.Retrieval.BonusCap
	}
	if cfg.Policy.MinRelevance <= 0 {
		cfg.Policy.MinRelevance = def.Policy.MinRelevance
	}
	if cfg.Policy.SummaryTrigger == "" {
		cfg.Policy.SummaryTrigger = def.Policy.SummaryTrigger
	}
	if cfg.Policy.MaxEvidence <= 0 {
		cfg.Policy.MaxEvidence = def.Policy.MaxEvidence
	}
	if cfg.Policy.GenerationSnippet <= 0 {
		cfg.Policy.GenerationSnippet = def.Policy.GenerationSnippet
	}
	if cfg.Ingestion.Workers <= 0 {
		cfg.Ingestion.Workers = def.Ingestion.Workers
	}
	if cfg.Ingestion.QueueSize <= 0 {
		cfg.Ingestion.QueueSize = def.Ingestion.QueueSize
	}
	if cfg.Ingestion.MaxChars <= 0 {
		cfg.Ingestion.MaxChars = def.Ingestion.MaxChars
	}
	if cfg.Ingestion.OverlapChars < 0 {
		cfg.Ingestion.OverlapChars = def.Ingestion.OverlapChars
	}
	if cfg.Ingestion.EmbedTimeout <= 0 {
		cfg.Ingestion.EmbedTimeout = def.Ingestion.EmbedTimeout
	}
	if cfg.Ingestion.RetryBackoff <= 0 {
		cfg.Ingestion.RetryBackoff = def.Ingestion.RetryBackoff
	}
	if cfg.Idempotency.Wait <= 0 {
		cfg.Idempotency.Wait = def.Idempotency.Wait
	}
	if cfg.Idempotency.PollInterval <= 0 {
		cfg.Idempotency.PollInterval = def.Idempotency.PollInterval
	}
	if cfg.Idempotency.TTL <= 0 {
		cfg.Idempotency.TTL = def.Idempotency.TTL
	}
}
