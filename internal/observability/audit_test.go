package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityLogger_RecordTierChange(t *testing.T) {
	var buf bytes.Buffer
	sl := NewSecurityLogger(&buf)

	sl.RecordTierChange(context.Background(), "sess-1", "operator", "administrator")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "security", entry["type"])
	assert.Equal(t, "sess-1", entry["actor"])
	assert.Equal(t, "tier_change", entry["action"])

	meta, ok := entry["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "operator", meta["from"])
	assert.Equal(t, "administrator", meta["to"])
}

func TestSecurityLogger_NilIsNoop(t *testing.T) {
	var sl *SecurityLogger
	assert.NotPanics(t, func() {
		sl.RecordAuthFailure(context.Background(), "127.0.0.1", "bad token")
	})
	assert.NoError(t, sl.Close())
}

func TestOpenSecurityLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "security.log")
	sl, err := OpenSecurityLogger(path)
	require.NoError(t, err)

	sl.RecordAuthFailure(context.Background(), "10.0.0.2", "missing token")
	require.NoError(t, sl.Close())
}

func TestRecordToolDispatch(t *testing.T) {
	before := testutil.ToFloat64(getMetrics().dispatchTotal.WithLabelValues("metrics_probe", "permitted"))
	RecordToolDispatch("metrics_probe", "permitted", 10*time.Millisecond)
	after := testutil.ToFloat64(getMetrics().dispatchTotal.WithLabelValues("metrics_probe", "permitted"))

	assert.Equal(t, before+1, after)
}
