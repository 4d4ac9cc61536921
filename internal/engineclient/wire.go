package engineclient

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

// flexBool decodes a JSON boolean, a JSON number (0 => false, non-zero =>
// true), or a string ("true"/"false" or a numeric string) into a bool. The
// engine's wire format accepts all of these for the "polled" field (§6,
// §8.5); this type is the robustness layer that absorbs them.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		*b = true
		return nil
	case bytes.Equal(data, []byte("false")):
		*b = false
		return nil
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*b = false
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("flexBool: %w", err)
		}
		switch s {
		case "true":
			*b = true
			return nil
		case "false", "":
			*b = false
			return nil
		}
		var n float64
		if err := json.Unmarshal([]byte(s), &n); err == nil {
			*b = n != 0
			return nil
		}
		return fmt.Errorf("flexBool: unrecognized string %q", s)
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flexBool: %w", err)
	}
	*b = n != 0
	return nil
}

// wireWorkItem mirrors types.WorkItem's JSON shape exactly except for
// Polled, which accepts the looser encoding described above before being
// narrowed to a plain bool on types.WorkItem.
type wireWorkItem struct {
	StepID          int64                  `json:"stepId"`
	ProcessID       int64                  `json:"processId"`
	StepExecutionID int64                  `json:"stepExecutionId"`
	RunCount        int32                  `json:"runCount"`
	StepNamespace   string                 `json:"stepNamespace"`
	StepName        string                 `json:"stepName"`
	StepRef         string                 `json:"stepRef,omitempty"`
	InputParam      map[string]interface{} `json:"inputParam"`
	IsOptional      bool                   `json:"isOptional"`
	Polled          flexBool               `json:"polled"`
	Priority        int32                  `json:"priority"`
	Started         int64                  `json:"started"`
	Scheduled       int64                  `json:"scheduled"`
	Updated         int64                  `json:"updated"`
}

func (w wireWorkItem) toDomain() *types.WorkItem {
	return &types.WorkItem{
		StepID:          w.StepID,
		ProcessID:       w.ProcessID,
		StepExecutionID: w.StepExecutionID,
		RunCount:        w.RunCount,
		StepNamespace:   w.StepNamespace,
		StepName:        w.StepName,
		StepRef:         w.StepRef,
		InputParam:      w.InputParam,
		IsOptional:      w.IsOptional,
		Polled:          bool(w.Polled),
		Priority:        w.Priority,
		Started:         w.Started,
		Scheduled:       w.Scheduled,
		Updated:         w.Updated,
	}
}

// registerEntry is one element of the PUT api/clients/register body.
type registerEntry struct {
	ProcessID int64  `json:"processId"`
	Namespace string `json:"namespace"`
	StepType  string `json:"stepType"`
	Name      string `json:"name"`
}

// stepQueueNameData identifies one (namespace, name) queue in a poll request.
type stepQueueNameData struct {
	OrgID     int64  `json:"orgId"`
	Namespace string `json:"namespace"`
	StepType  string `json:"stepType"`
	Name      string `json:"name"`
}

// pollRequestEntry is one element of the POST api/clients/poll body.
type pollRequestEntry struct {
	StepQueueNameData stepQueueNameData `json:"stepQueueNameData"`
	Size              int               `json:"size"`
}
