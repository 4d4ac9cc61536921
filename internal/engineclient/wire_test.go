package engineclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexBoolAcceptsAllEncodedForms(t *testing.T) {
	cases := []struct {
		name string
		json string
		want bool
	}{
		{"json true", `true`, true},
		{"json false", `false`, false},
		{"json zero", `0`, false},
		{"json one", `1`, true},
		{"json numeric nonzero", `42`, true},
		{"string true", `"true"`, true},
		{"string false", `"false"`, false},
		{"string numeric zero", `"0"`, false},
		{"string numeric one", `"1"`, true},
		{"null", `null`, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var b flexBool
			require.NoError(t, json.Unmarshal([]byte(c.json), &b))
			assert.Equal(t, c.want, bool(b))
		})
	}
}

func TestFlexBoolRejectsGarbage(t *testing.T) {
	var b flexBool
	err := json.Unmarshal([]byte(`"not-a-bool"`), &b)
	assert.Error(t, err)
}

func TestWireWorkItemToDomain(t *testing.T) {
	raw := `{
		"stepId": 1, "processId": 2, "stepExecutionId": 3, "runCount": 1,
		"stepNamespace": "ns", "stepName": "echo", "polled": "1",
		"inputParam": {"k": "v"}, "priority": 5, "started": 100
	}`
	var w wireWorkItem
	require.NoError(t, json.Unmarshal([]byte(raw), &w))

	item := w.toDomain()
	assert.Equal(t, int64(3), item.StepExecutionID)
	assert.Equal(t, "ns", item.StepNamespace)
	assert.True(t, item.Polled)
	assert.Equal(t, "v", item.InputParam["k"])
}
