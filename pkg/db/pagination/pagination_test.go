package pagination

import (
	"strconv"
	"testing"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", Timestamp: "2024-01-31T10:00:00Z"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cursor, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor.ID != "42" || cursor.Timestamp != "2024-01-31T10:00:00Z" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("%%%"); err != ErrInvalidPageToken {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
	if c, err := DecodeCursor(""); err != nil || c != nil {
		t.Fatalf("expected empty token to decode to nil cursor")
	}
}

func TestTrim(t *testing.T) {
	rows := []int{1, 2, 3}
	cursorOf := func(v int) Cursor { return Cursor{ID: strconv.Itoa(v)} }

	kept, info, err := Trim(rows, 2, cursorOf)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if len(kept) != 2 || !info.HasMore || info.NextPageToken == "" {
		t.Fatalf("expected 2 rows and another page, got %v %+v", kept, info)
	}

	kept, info, _ = Trim(rows, 5, cursorOf)
	if len(kept) != 3 || info.HasMore {
		t.Fatalf("expected all rows and no more pages, got %v %+v", kept, info)
	}
}

func TestLimit(t *testing.T) {
	if got := (Pagination{}).Limit(); got != DefaultPageSize {
		t.Fatalf("expected default page size, got %d", got)
	}
	if got := (Pagination{PageSize: 1000}).Limit(); got != MaxPageSize {
		t.Fatalf("expected max page size, got %d", got)
	}
}
