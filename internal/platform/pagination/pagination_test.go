package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize || params.PageToken != "" {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	cases := []struct {
		raw  string
		want int
		err  bool
	}{
		{raw: "", want: 25},
		{raw: "30", want: 30},
		{raw: "400", want: 40},
		{raw: "abc", err: true},
		{raw: "0", err: true},
		{raw: "-3", err: true},
	}
	for _, tc := range cases {
		params, err := Parse(url.Values{"pageSize": {tc.raw}}, opts)
		if tc.err {
			if !errors.Is(err, ErrInvalidPageSize) {
				t.Fatalf("%q: expected ErrInvalidPageSize got %v", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.raw, err)
		}
		if params.PageSize != tc.want {
			t.Fatalf("%q: expected %d got %d", tc.raw, tc.want, params.PageSize)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{After: []string{"2025-01-01T00:00:00Z", "sh_1"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cursor.After) != 2 || cursor.After[1] != "sh_1" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}

	empty, err := EncodeToken(Cursor{})
	if err != nil || empty != "" {
		t.Fatalf("expected empty token, got %q err=%v", empty, err)
	}
}

func TestHistoryTokenRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 30, 0, 123, time.UTC)
	cases := []HistoryCursor{
		{SubjectID: "ord_1", StatusType: "shipping", Seq: 42},
		{SubjectID: "ord_1", CreatedAt: at, EntryID: "sh_7"},
	}
	for _, want := range cases {
		token, err := EncodeHistoryToken(want)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodeHistoryToken(token, want.SubjectID, want.StatusType)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Seq != want.Seq || got.EntryID != want.EntryID || !got.CreatedAt.Equal(want.CreatedAt) {
			t.Fatalf("expected %+v got %+v", want, got)
		}
	}
}

func TestHistoryTokenRejectsOtherListing(t *testing.T) {
	token, err := EncodeHistoryToken(HistoryCursor{SubjectID: "ord_1", StatusType: "shipping", Seq: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, tc := range []struct{ subject, statusType string }{
		{"ord_2", "shipping"},
		{"ord_1", "payment"},
		{"ord_1", ""},
	} {
		if _, err := DecodeHistoryToken(token, tc.subject, tc.statusType); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("%s/%s: expected ErrInvalidPageToken got %v", tc.subject, tc.statusType, err)
		}
	}

	plain, err := EncodeToken(Cursor{After: []string{"3"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeHistoryToken(plain, "ord_1", "shipping"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected unscoped token to be rejected, got %v", err)
	}

	shaped, err := EncodeToken(Cursor{Scope: historyScope("ord_1", "shipping"), After: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeHistoryToken(shaped, "ord_1", "shipping"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected malformed cursor to be rejected, got %v", err)
	}
}

func TestFromRequestRejectsBadToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/history?pageToken=%25%25", nil)
	if _, err := FromRequest(req, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}
