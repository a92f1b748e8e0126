package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC), ID: "01HZX"}
	token := EncodeToken(cursor)
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if decoded.ID != cursor.ID || !decoded.CreatedAt.Equal(cursor.CreatedAt) {
		t.Fatalf("expected %#v, got %#v", cursor, decoded)
	}
	if EncodeToken(Cursor{}) != "" {
		t.Fatal("zero cursor should encode to empty token")
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"!!!", "bm90LWpzb24", "e30"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken, got %v", token, err)
		}
	}
}

func TestPageSize(t *testing.T) {
	cases := map[string]int{"": DefaultPageSize, "0": DefaultPageSize, "10": 10, "5000": MaxPageSize}
	for raw, want := range cases {
		got, err := PageSize(raw)
		if err != nil || got != want {
			t.Fatalf("PageSize(%q) = %d, %v; want %d", raw, got, err, want)
		}
	}
	if _, err := PageSize("-1"); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
	if _, err := PageSize("ten"); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
}
