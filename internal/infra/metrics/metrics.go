package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "post_runs_total",
		Help: "Количество запусков конвейера по исходу",
	}, []string{"outcome"})

	PostsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "posts_published_total",
		Help: "Количество успешно опубликованных постов",
	})

	PostsQueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "posts_queued_total",
		Help: "Количество постов, отправленных в очередь отложенных",
	})

	ComplianceRejectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_rejects_total",
		Help: "Отклонённые кандидаты по нарушенному правилу",
	}, []string{"rule"})

	BudgetSpent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "budget_spent",
		Help: "Потраченная сумма бюджетного периода",
	}, []string{"period"})

	BudgetCap = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "budget_cap",
		Help: "Потолок бюджетного периода",
	}, []string{"period"})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fallback_queue_depth",
		Help: "Количество записей очереди, ожидающих повторной публикации",
	})

	QueueDeadDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fallback_queue_dead_depth",
		Help: "Количество записей очереди в терминальном состоянии",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	ImagesGeneratedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "images_generated_total",
		Help: "Количество сгенерированных изображений",
	})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		RunsTotal,
		PostsPublishedTotal,
		PostsQueuedTotal,
		ComplianceRejectsTotal,
		BudgetSpent,
		BudgetCap,
		QueueDepth,
		QueueDeadDepth,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		ImagesGeneratedTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveRun записывает исход запуска конвейера.
func ObserveRun(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	RunsTotal.WithLabelValues(outcome).Inc()
}

// SetBudget обновляет гейджи бюджета для периода.
func SetBudget(period string, spent, cap float64) {
	BudgetSpent.WithLabelValues(period).Set(spent)
	BudgetCap.WithLabelValues(period).Set(cap)
}

// SetQueueDepth обновляет гейджи глубины очереди.
func SetQueueDepth(pending, dead int) {
	QueueDepth.Set(float64(pending))
	QueueDeadDepth.Set(float64(dead))
}

// IncComplianceReject фиксирует отклонённого кандидата.
func IncComplianceReject(rule string) {
	if rule == "" {
		rule = "unknown"
	}
	ComplianceRejectsTotal.WithLabelValues(rule).Inc()
}
