package kafka

import "testing"

type event struct {
	RunID   string `json:"run_id"`
	Records int    `json:"records"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[event]([]byte(`{"run_id":"abc","records":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if got != (event{RunID: "abc", Records: 3}) {
		t.Errorf("decoded %+v", got)
	}
	if _, err := DecodeJSON[event]([]byte(`{`)); err == nil {
		t.Error("expected error for truncated message")
	}
}
