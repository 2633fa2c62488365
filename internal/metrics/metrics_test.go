package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreExported(t *testing.T) {
	before := testutil.ToFloat64(Orders.WithLabelValues("grid", "buy", "ok"))
	Orders.WithLabelValues("grid", "buy", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Orders.WithLabelValues("grid", "buy", "ok")))

	ActiveBots.WithLabelValues("arbitrage").Set(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `crypto_bots_bot_orders_total{bot_type="grid",result="ok",side="buy"}`)
	assert.Contains(t, string(body), `crypto_bots_tracker_active_bots{bot_type="arbitrage"} 2`)
}
