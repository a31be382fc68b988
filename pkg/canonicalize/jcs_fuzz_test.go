package canonicalize

import (
	"encoding/json"
	"testing"
)

func FuzzJCS(f *testing.F) {
	f.Add([]byte(`{"a":1,"b":2}`))
	f.Add([]byte(`{"z":{"y":"foo","x":"bar"},"a":1}`))
	f.Add([]byte(`{"num":123.456,"bool":true,"null":null}`))
	f.Add([]byte(`{"steps":[{"index":1,"value":0.06}]}`))
	f.Add([]byte(`{"unicode":"こんにちは"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip("invalid JSON input")
		}
		b1, err := JCS(v)
		if err != nil {
			return
		}
		b2, err := JCS(v)
		if err != nil {
			t.Fatal("second call failed")
		}
		if string(b1) != string(b2) {
			t.Fatalf("non-deterministic output: %s vs %s", b1, b2)
		}

		var back any
		if err := json.Unmarshal(b1, &back); err != nil {
			t.Fatalf("canonical output is not valid JSON: %v", err)
		}
		b3, err := JCS(back)
		if err != nil {
			t.Fatal(err)
		}
		if string(b1) != string(b3) {
			t.Fatalf("not idempotent: %s vs %s", b1, b3)
		}
	})
}
