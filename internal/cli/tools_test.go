package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTools() []*toolexecutor.ToolDefinition {
	return []*toolexecutor.ToolDefinition{
		{Name: "process_kill", Category: toolexecutor.ToolCategory("process"), RiskLevel: toolexecutor.RiskHigh, MinimumTier: toolexecutor.TierAdministrator, Description: "Terminate a process"},
		{Name: "file_read", Category: toolexecutor.ToolCategory("file"), RiskLevel: toolexecutor.RiskLow, MinimumTier: toolexecutor.TierObserver, Description: "Read a file"},
		{Name: "file_delete", Category: toolexecutor.ToolCategory("file"), RiskLevel: toolexecutor.RiskHigh, MinimumTier: toolexecutor.TierOperator, Description: "Delete a file"},
	}
}

func TestCallableAt(t *testing.T) {
	names := func(defs []*toolexecutor.ToolDefinition) []string {
		var out []string
		for _, d := range defs {
			out = append(out, d.Name)
		}
		return out
	}

	assert.Equal(t, []string{"file_read"}, names(callableAt(sampleTools(), toolexecutor.TierObserver)))
	assert.Equal(t, []string{"file_read", "file_delete"}, names(callableAt(sampleTools(), toolexecutor.TierOperator)))
	assert.Len(t, callableAt(sampleTools(), toolexecutor.TierSystem), 3)
}

func TestWriteToolList(t *testing.T) {
	t.Run("table sorted by category then name", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, writeToolList(&out, sampleTools(), false))

		text := out.String()
		assert.Contains(t, text, "MIN TIER")
		assert.Contains(t, text, "administrator")
		assert.Less(t, bytes.Index(out.Bytes(), []byte("file_delete")), bytes.Index(out.Bytes(), []byte("file_read")))
		assert.Less(t, bytes.Index(out.Bytes(), []byte("file_read")), bytes.Index(out.Bytes(), []byte("process_kill")))
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, writeToolList(&out, sampleTools(), true))

		var decoded []map[string]interface{}
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		require.Len(t, decoded, 3)
		assert.Equal(t, "file_delete", decoded[0]["name"])
		assert.Equal(t, "high", decoded[0]["risk_level"])
		assert.Equal(t, "operator", decoded[0]["minimum_tier"])
	})
}

func TestToolsCommand(t *testing.T) {
	cmd := GetRootCmd()
	cmd.SetArgs([]string{"tools", "--json", "--tier", "observer"})
	output := &bytes.Buffer{}
	cmd.SetOut(output)

	require.NoError(t, cmd.Execute())

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &decoded))
	require.NotEmpty(t, decoded)
	for _, d := range decoded {
		assert.Equal(t, "observer", d["minimum_tier"], d["name"])
	}
}
