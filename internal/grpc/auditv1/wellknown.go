package auditv1

import (
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Timestamp carries a google.protobuf.Timestamp in its canonical JSON form
// ("2024-05-01T10:00:00Z").
type Timestamp struct {
	*timestamppb.Timestamp
}

func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{timestamppb.New(t)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Timestamp == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(t.Timestamp)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Timestamp = nil
		return nil
	}
	ts := &timestamppb.Timestamp{}
	if err := protojson.Unmarshal(data, ts); err != nil {
		return err
	}
	t.Timestamp = ts
	return nil
}

// Duration carries a google.protobuf.Duration in its canonical JSON form
// ("1.500s").
type Duration struct {
	*durationpb.Duration
}

func NewDuration(d time.Duration) *Duration {
	return &Duration{durationpb.New(d)}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.Duration == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(d.Duration)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		d.Duration = nil
		return nil
	}
	dur := &durationpb.Duration{}
	if err := protojson.Unmarshal(data, dur); err != nil {
		return err
	}
	d.Duration = dur
	return nil
}
