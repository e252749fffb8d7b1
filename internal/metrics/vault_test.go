package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *VaultMetrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("deposit", time.Now(), nil)
		m.SetTotalShares(domain.ZeroID, 1)
		m.ObserveFeedUpdate(domain.ZeroID, nil)
		m.ObserveKeeperRoute(domain.ZeroID, "")
		m.AddArchived(3)
	})
}

func TestObserveOperationCountsRejectionsByName(t *testing.T) {
	m := Vault()
	before := testutil.ToFloat64(m.rejections.WithLabelValues("withdraw", "ZeroShares"))
	m.ObserveOperation("withdraw", time.Now(), domain.ErrZeroShares)
	after := testutil.ToFloat64(m.rejections.WithLabelValues("withdraw", "ZeroShares"))
	assert.Equal(t, before+1, after)

	okBefore := testutil.ToFloat64(m.operations.WithLabelValues("withdraw", "ok"))
	m.ObserveOperation("withdraw", time.Now(), nil)
	assert.Equal(t, okBefore+1, testutil.ToFloat64(m.operations.WithLabelValues("withdraw", "ok")))
}

func TestHTTPObserveLabelsUnmatched(t *testing.T) {
	m := HTTP()
	before := testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404"))
	m.Observe("GET", "", 404, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")))

	var nilHTTP *HTTPMetrics
	assert.NotPanics(t, func() { nilHTTP.Observe("GET", "/", 200, 0) })
}
