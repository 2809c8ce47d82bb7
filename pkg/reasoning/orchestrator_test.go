package reasoning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSink struct {
	result map[string]any
	err    error
}

func (s stubSink) Call(ctx context.Context, req Request) (map[string]any, error) {
	return s.result, s.err
}

func TestModelForTaskUsesFixedRoutingTable(t *testing.T) {
	o := New()
	assert.Equal(t, ModelChatGPT, o.ModelForTask(TaskRootCauseAnalysis))
	assert.Equal(t, ModelGemini, o.ModelForTask(TaskCVELookup))
	assert.Equal(t, ModelClaude, o.ModelForTask(TaskCodeGeneration))
	assert.Equal(t, ModelChatGPT, o.ModelForTask(TaskType("unknown_task")))
}

func TestReasonRoutesToConfiguredSink(t *testing.T) {
	o := New()
	o.ConfigureModel(ModelGemini, stubSink{result: map[string]any{"reasoning": "found cves", "confidence": 0.9}})

	req := NewRequest(TaskCVELookup, map[string]any{"cpe": "foo"}, nil, "org-1")
	resp := o.Reason(context.Background(), req)

	require.True(t, resp.Success)
	assert.Equal(t, ModelGemini, resp.ModelUsed)
	assert.Equal(t, "found cves", resp.Reasoning)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
}

func TestReasonWithoutSinkConfiguredFails(t *testing.T) {
	o := New()
	resp := o.Reason(context.Background(), NewRequest(TaskExplanation, nil, nil, ""))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no model sink configured")
}

func TestReasonWithSinkErrorFails(t *testing.T) {
	o := New()
	o.ConfigureModel(ModelChatGPT, stubSink{err: errors.New("provider unreachable")})

	resp := o.Reason(context.Background(), NewRequest(TaskRiskAssessment, nil, nil, ""))
	assert.False(t, resp.Success)
	assert.Equal(t, "provider unreachable", resp.Error)
}

func TestHistoryRecordsEveryRequest(t *testing.T) {
	o := New()
	o.ConfigureModel(ModelChatGPT, stubSink{result: map[string]any{}})
	o.Reason(context.Background(), NewRequest(TaskExplanation, nil, nil, ""))
	o.Reason(context.Background(), NewRequest(TaskPrioritization, nil, nil, ""))
	assert.Len(t, o.History(), 2)
}
