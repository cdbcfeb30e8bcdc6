// Package metrics exposes prometheus counters for workflow transitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sgc"

const (
	ResultOK       = "ok"
	ResultRejected = "rejeitada"
	ResultError    = "erro"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transicoes_total",
			Help:      "Subprocess transitions attempted, by action and result",
		},
		[]string{"acao", "resultado"},
	)

	transitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transicao_duracao_segundos",
			Help:      "Duration of subprocess transitions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"acao"},
	)

	batchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lote_itens_total",
			Help:      "Items processed by bulk operations, by action and result",
		},
		[]string{"acao", "resultado"},
	)

	webhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_entregas_total",
			Help:      "Webhook deliveries by result",
		},
		[]string{"resultado"},
	)
)

// RecordTransition counts one transition attempt.
func RecordTransition(acao, resultado string, took time.Duration) {
	transitionsTotal.WithLabelValues(acao, resultado).Inc()
	transitionDuration.WithLabelValues(acao).Observe(took.Seconds())
}

func RecordBatchItem(acao, resultado string) {
	batchItemsTotal.WithLabelValues(acao, resultado).Inc()
}

func RecordWebhookDelivery(resultado string) {
	webhookDeliveriesTotal.WithLabelValues(resultado).Inc()
}
