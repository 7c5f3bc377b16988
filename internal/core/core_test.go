package core

import "testing"

func TestExecutionRecordTerminal(t *testing.T) {
	tests := []struct {
		status ExecutionStatus
		want   bool
	}{
		{ExecutionRunning, false},
		{ExecutionSuccess, true},
		{ExecutionPartial, true},
		{ExecutionFailed, true},
	}
	for _, tt := range tests {
		r := ExecutionRecord{ID: "exec-1", Status: tt.status}
		if got := r.Terminal(); got != tt.want {
			t.Errorf("Terminal() with status %s: expected %v, got %v", tt.status, tt.want, got)
		}
	}
}

func TestPublishThresholdGate(t *testing.T) {
	status := func(score int) ItemStatus {
		if score >= PublishThreshold {
			return ItemPublished
		}
		return ItemDraft
	}
	if status(PublishThreshold) != ItemPublished {
		t.Errorf("Expected score %d to publish", PublishThreshold)
	}
	if status(PublishThreshold-1) != ItemDraft {
		t.Errorf("Expected score %d to land as draft", PublishThreshold-1)
	}
}
