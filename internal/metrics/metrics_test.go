package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(transitionsTotal.WithLabelValues("aceitar", ResultOK))
	RecordTransition("aceitar", ResultOK, 5*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(transitionsTotal.WithLabelValues("aceitar", ResultOK)))
}

func TestRecordBatchItem(t *testing.T) {
	before := testutil.ToFloat64(batchItemsTotal.WithLabelValues("homologar", ResultRejected))
	RecordBatchItem("homologar", ResultRejected)
	RecordBatchItem("homologar", ResultRejected)
	require.Equal(t, before+2, testutil.ToFloat64(batchItemsTotal.WithLabelValues("homologar", ResultRejected)))
}
