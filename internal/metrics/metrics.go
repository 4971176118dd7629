package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarrel_tokens_generated_total",
		Help: "The total number of tokens sampled by the generation loop",
	})

	PromptTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quarrel_prompt_tokens",
		Help:    "Distribution of tokenized prompt lengths",
		Buckets: []float64{1, 8, 32, 128, 512, 1024, 2048, 4096, 8192},
	})

	DecodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quarrel_decode_duration_seconds",
		Help:    "Duration of forward-pass decode steps",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	DecodeTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarrel_decode_tokens_total",
		Help: "Batch entries submitted to the engine",
	}, []string{"phase"})

	DecodeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarrel_decode_errors_total",
		Help: "Forward-pass failures by engine status",
	}, []string{"status"})

	CapacityViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarrel_capacity_violations_total",
		Help: "Batches rejected because they exceed the context window",
	})

	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarrel_generations_total",
		Help: "Completed generation calls by outcome",
	}, []string{"outcome"})

	GenerationDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "quarrel_generation_duration_seconds",
		Help: "Wall time of generation calls",
	})

	ModelsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quarrel_models_live",
		Help: "Models currently loaded",
	})

	ContextsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quarrel_contexts_live",
		Help: "Contexts currently allocated",
	})

	BackendRefs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quarrel_backend_refs",
		Help: "Outstanding references on the process-wide compute backend",
	})

	KVCacheCapacityBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quarrel_kv_cache_capacity_bytes",
		Help: "Total bytes allocated for key/value caches",
	})

	KVCacheFill = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quarrel_kv_cache_fill_ratio",
		Help:    "Cache fill position over context window after each decode step",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
	})

	TokenizerEncodeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarrel_tokenizer_encoded_tokens_total",
		Help: "Tokens produced by encode",
	})

	TokenizerUnknownTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarrel_tokenizer_unknown_total",
		Help: "Input fragments mapped to the unknown token",
	})

	TokenizerDecodeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarrel_tokenizer_decoded_tokens_total",
		Help: "Tokens rendered by decode",
	})
)

// RecordDecode observes a forward pass. phase is "prefill" or "decode".
func RecordDecode(phase string, tokens int, duration time.Duration) {
	DecodeDuration.WithLabelValues(phase).Observe(duration.Seconds())
	DecodeTokensTotal.WithLabelValues(phase).Add(float64(tokens))
}

func RecordDecodeError(status string) {
	DecodeErrorsTotal.WithLabelValues(status).Inc()
}

func RecordCapacityViolation() {
	CapacityViolationsTotal.Inc()
}

func RecordPrompt(tokens int) {
	PromptTokens.Observe(float64(tokens))
}

func RecordGeneration(outcome string, generated int, duration time.Duration) {
	GenerationsTotal.WithLabelValues(outcome).Inc()
	TokensGeneratedTotal.Add(float64(generated))
	GenerationDuration.Observe(duration.Seconds())
}

func RecordKVCacheFill(pos, window int) {
	if window <= 0 {
		return
	}
	KVCacheFill.Observe(float64(pos) / float64(window))
}

func RecordKVCacheAlloc(delta int64) {
	KVCacheCapacityBytes.Add(float64(delta))
}

func RecordTokenizerEncode(tokens, unknown int) {
	TokenizerEncodeTotal.Add(float64(tokens))
	if unknown > 0 {
		TokenizerUnknownTotal.Add(float64(unknown))
	}
}

func RecordTokenizerDecode(tokens int) {
	TokenizerDecodeTotal.Add(float64(tokens))
}
