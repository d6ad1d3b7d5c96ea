package protocol

import (
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		kind     Kind
		text     string
		finished bool
	}{
		{"finished", `{"status": "Replay finished."}`, KindStatus, StatusReplayFinished, true},
		{"loaded", `{"status": "Data loaded. Starting replay."}`, KindStatus, StatusDataLoaded, false},
		{"finished lookalike", `{"status": "Replay finished"}`, KindStatus, "Replay finished", false},
		{"error", `{"error": "File not found: x.parquet"}`, KindError, "File not found: x.parquet", false},
		{"data", `{"timestamp": "2024-01-01T09:00:00Z", "price": 1}`, KindData, "", false},
		{"non-object", `[1, 2, 3]`, KindData, "", false},
		{"non-string status", `{"status": 3}`, KindStatus, "3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if msg.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", msg.Kind, tt.kind)
			}
			if msg.Text != tt.text {
				t.Errorf("Text = %q, want %q", msg.Text, tt.text)
			}
			if msg.Finished() != tt.finished {
				t.Errorf("Finished() = %v, want %v", msg.Finished(), tt.finished)
			}
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, frame := range []string{`{"status":`, `not json`, ``} {
		if _, err := Decode([]byte(frame)); err == nil {
			t.Errorf("Decode(%q) should fail", frame)
		}
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	msg, err := Decode(StatusMessage(StatusReplayFinished))
	if err != nil || !msg.Finished() {
		t.Errorf("StatusMessage(finished) decoded as %+v, %v", msg, err)
	}

	msg, err = Decode(NotFoundMessage("trades.parquet"))
	if err != nil || msg.Kind != KindError || msg.Text != "File not found: trades.parquet" {
		t.Errorf("NotFoundMessage decoded as %+v, %v", msg, err)
	}

	msg, err = Decode(UnexpectedMessage(errors.New("boom")))
	if err != nil || msg.Text != "An unexpected error occurred: boom" {
		t.Errorf("UnexpectedMessage decoded as %+v, %v", msg, err)
	}
}
