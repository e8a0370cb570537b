package decode

import (
	"PPGate/tools/errs"
	"errors"
	"testing"
	"time"
)

type joinOptions struct {
	Name    string         `json:"name"`
	Level   int            `json:"level"`
	Tags    []string       `json:"tags"`
	Linger  time.Duration  `json:"linger"`
	Profile map[string]any `json:"profile"`
}

func TestDecodeMap(t *testing.T) {
	in := map[string]any{
		"name":    "ada",
		"level":   float64(3),
		"tags":    []any{"a", "b"},
		"linger":  "1500ms",
		"profile": `{"rank":"gold"}`,
	}
	out, err := DecodeMap[joinOptions](in)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Name != "ada" || out.Level != 3 || len(out.Tags) != 2 {
		t.Fatalf("unexpected %+v", out)
	}
	if out.Linger != 1500*time.Millisecond {
		t.Fatalf("linger = %v", out.Linger)
	}
	if out.Profile["rank"] != "gold" {
		t.Fatalf("profile = %v", out.Profile)
	}
}

func TestDecodeMapNil(t *testing.T) {
	out, err := DecodeMap[joinOptions](nil)
	if err != nil || out == nil || out.Name != "" {
		t.Fatalf("nil map: %+v %v", out, err)
	}
}

func TestDecodeMapStrictUnused(t *testing.T) {
	_, err := DecodeMap[joinOptions](map[string]any{"nope": 1}, Options{ErrorUnused: true})
	if !errors.Is(err, errs.ErrDecodeFailure) {
		t.Fatalf("expected DecodeFailure, got %v", err)
	}
}
