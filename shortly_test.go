package shortly

import (
	"reflect"
	"testing"
	"time"
)

func TestURL_CacheRoundTrip(t *testing.T) {
	created := time.Date(2025, 10, 2, 14, 30, 0, 0, time.UTC)
	u := &URL{
		ID:          916132831,
		ShortCode:   "aB3xK9m",
		OriginalURL: "https://example.com/some/long/path?q=1",
		Clicks:      42,
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Hour),
	}
	b, err := u.MarshalCache()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalCache(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(u, got) {
		t.Fatalf("round trip mismatch:\n  in:  %+v\n  out: %+v", u, got)
	}
}

func TestURL_MarshalCache_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	u := &URL{ShortCode: "gh", CreatedAt: time.Date(2025, 10, 2, 19, 0, 0, 0, loc)}
	b, err := u.MarshalCache()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalCache(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.CreatedAt.Equal(u.CreatedAt) {
		t.Fatalf("instant changed: %v vs %v", got.CreatedAt, u.CreatedAt)
	}
	if got.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp in cache payload, got %v", got.CreatedAt.Location())
	}
}

func TestClickEvent_Validate(t *testing.T) {
	cases := []struct {
		name  string
		event ClickEvent
		ok    bool
	}{
		{"valid", ClickEvent{ShortCode: "aB3xK9m", Delta: 1}, true},
		{"batched delta", ClickEvent{ShortCode: "gh", Delta: 50}, true},
		{"empty code", ClickEvent{Delta: 1}, false},
		{"zero delta", ClickEvent{ShortCode: "gh"}, false},
		{"negative delta", ClickEvent{ShortCode: "gh", Delta: -2}, false},
		{"oversized code", ClickEvent{ShortCode: "aaaaaaaaaaaaa", Delta: 1}, false},
	}
	for _, c := range cases {
		if err := c.event.Validate(); (err == nil) != c.ok {
			t.Fatalf("%s: Validate() = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestClickEvent_WireRoundTrip(t *testing.T) {
	in := ClickEvent{ShortCode: "aB3xK9m", Delta: 3}
	b, err := EncodeClickEvent(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeClickEvent(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestDecodeClickEvent_RejectsGarbage(t *testing.T) {
	if _, err := DecodeClickEvent([]byte(`{"short_code":"","delta":0}`)); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := DecodeClickEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
