package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidMemberID = errors.New("invalid member id")

// MemberID is the canonical member identifier. The ledger and older callers
// send the same id as a JSON string, a JSON number or "Usuario <id>"; all of
// them collapse to one MemberID here so nothing downstream compares raw forms.
type MemberID string

// ID identifies families, expenses and payments.
type ID string

const memberLabelPrefix = "usuario "

// ParseMemberID coerces any accepted member id format into a MemberID.
func ParseMemberID(raw string) (MemberID, error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(s, strings.TrimSpace(memberLabelPrefix)):
		s = ""
	case len(s) > len(memberLabelPrefix) && strings.EqualFold(s[:len(memberLabelPrefix)], memberLabelPrefix):
		s = strings.TrimSpace(s[len(memberLabelPrefix):])
	}
	if s == "" || strings.ContainsAny(s, " \t\n/?#") {
		return "", fmt.Errorf("%w: %q", ErrInvalidMemberID, raw)
	}
	if n, ok := integralNumber(s); ok {
		s = n
	}
	return MemberID(s), nil
}

func (id MemberID) String() string { return string(id) }

// IsZero reports whether the id was absent from the payload.
func (id MemberID) IsZero() bool { return id == "" }

func (id *MemberID) UnmarshalJSON(data []byte) error {
	raw, err := flexString(data)
	if err != nil {
		return err
	}
	if raw == "" {
		*id = ""
		return nil
	}
	parsed, err := ParseMemberID(raw)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ID) String() string { return string(id) }

func (id *ID) UnmarshalJSON(data []byte) error {
	raw, err := flexString(data)
	if err != nil {
		return err
	}
	*id = ID(strings.TrimSpace(raw))
	return nil
}

// ChatIdentity is the chat user a member is linked to. Telegram ids arrive
// as JSON numbers from some ledger versions and as strings from others.
type ChatIdentity string

func (c ChatIdentity) String() string { return string(c) }

func (c *ChatIdentity) UnmarshalJSON(data []byte) error {
	raw, err := flexString(data)
	if err != nil {
		return err
	}
	*c = ChatIdentity(strings.TrimSpace(raw))
	return nil
}

// flexString accepts a JSON string, number or null.
func flexString(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", fmt.Errorf("id must be a string or number: %w", err)
	}
	if s, ok := integralNumber(n.String()); ok {
		return s, nil
	}
	return n.String(), nil
}

// integralNumber rewrites "7", "7.0" and "007" as "7".
func integralNumber(s string) (string, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) && !strings.ContainsAny(s, "eE") {
		return strconv.FormatInt(int64(f), 10), true
	}
	return "", false
}

// Less orders member ids numerically when both are integers and
// lexicographically otherwise.
func (id MemberID) Less(other MemberID) bool {
	a, errA := strconv.ParseInt(string(id), 10, 64)
	b, errB := strconv.ParseInt(string(other), 10, 64)
	if errA == nil && errB == nil {
		return a < b
	}
	return id < other
}
