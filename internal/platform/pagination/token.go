package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is the position after which the next page starts. Scope names the listing the token
// was issued for; After holds driver specific ordering values.
type Cursor struct {
	Scope string   `json:"scope,omitempty"`
	After []string `json:"after"`
}

// EncodeToken serialises cursor into a URL-safe page token. An empty cursor yields an empty token.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.After) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if len(cursor.After) == 0 {
		return Cursor{}, fmt.Errorf("%w: empty cursor", ErrInvalidPageToken)
	}
	return cursor, nil
}

// HistoryCursor positions a status history listing of one subject. Stores with a monotonic
// sequence (SQLite) set Seq; stores ordering on (createdAt, id) (Firestore) set CreatedAt and EntryID.
type HistoryCursor struct {
	SubjectID  string
	StatusType string
	Seq        int64
	CreatedAt  time.Time
	EntryID    string
}

func historyScope(subjectID, statusType string) string {
	return "history:" + strconv.Quote(subjectID) + ":" + statusType
}

// EncodeHistoryToken serialises c so it is only accepted for the same subject and status type.
func EncodeHistoryToken(c HistoryCursor) (string, error) {
	cursor := Cursor{Scope: historyScope(c.SubjectID, c.StatusType)}
	if c.EntryID != "" {
		cursor.After = []string{c.CreatedAt.UTC().Format(time.RFC3339Nano), c.EntryID}
	} else {
		cursor.After = []string{strconv.FormatInt(c.Seq, 10)}
	}
	return EncodeToken(cursor)
}

// DecodeHistoryToken parses a token from EncodeHistoryToken and rejects tokens issued for another
// subject or status type.
func DecodeHistoryToken(token, subjectID, statusType string) (HistoryCursor, error) {
	cursor, err := DecodeToken(token)
	if err != nil {
		return HistoryCursor{}, err
	}
	if cursor.Scope != historyScope(subjectID, statusType) {
		return HistoryCursor{}, fmt.Errorf("%w: issued for another history listing", ErrInvalidPageToken)
	}
	out := HistoryCursor{SubjectID: subjectID, StatusType: statusType}
	switch len(cursor.After) {
	case 1:
		seq, err := strconv.ParseInt(cursor.After[0], 10, 64)
		if err != nil || seq < 0 {
			return HistoryCursor{}, fmt.Errorf("%w: bad sequence %q", ErrInvalidPageToken, cursor.After[0])
		}
		out.Seq = seq
	case 2:
		at, err := time.Parse(time.RFC3339Nano, cursor.After[0])
		if err != nil || cursor.After[1] == "" {
			return HistoryCursor{}, fmt.Errorf("%w: bad position %q", ErrInvalidPageToken, cursor.After)
		}
		out.CreatedAt, out.EntryID = at, cursor.After[1]
	default:
		return HistoryCursor{}, fmt.Errorf("%w: unexpected cursor shape", ErrInvalidPageToken)
	}
	return out, nil
}
