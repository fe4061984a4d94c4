package auditv1

import (
	"strings"
	"testing"
	"time"
)

func TestCodecWritesCanonicalWellKnownTypes(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	resp := &ExtractResponse{
		RunId:     "run-1",
		Outcome:   "done",
		StartedAt: NewTimestamp(started),
		Duration:  NewDuration(1500 * time.Millisecond),
		Stages:    []*StageReport{{Stage: "parser", Attempts: 1, Duration: NewDuration(2 * time.Second)}},
	}

	codec := jsonCodec{}
	data, err := codec.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(data)
	for _, want := range []string{`"startedAt":"2024-05-01T10:00:00Z"`, `"duration":"1.500s"`, `"duration":"2s"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}

	var decoded ExtractResponse
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.StartedAt.AsTime().Equal(started) {
		t.Fatalf("unexpected start time %v", decoded.StartedAt.AsTime())
	}
	if decoded.Duration.AsDuration() != 1500*time.Millisecond || decoded.Stages[0].Duration.AsDuration() != 2*time.Second {
		t.Fatalf("unexpected durations %v / %v", decoded.Duration.AsDuration(), decoded.Stages[0].Duration.AsDuration())
	}
}

func TestCodecOmitsMissingWellKnownTypes(t *testing.T) {
	data, err := jsonCodec{}.Marshal(&ExtractResponse{RunId: "run-2"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "startedAt") || strings.Contains(string(data), "duration") {
		t.Fatalf("unset times must be omitted: %s", data)
	}
}
