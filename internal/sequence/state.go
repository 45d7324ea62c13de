package sequence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the ISO-8601 calendar date layout used in the counter record.
const DateLayout = "2006-01-02"

var (
	ErrNoRecord        = errors.New("no counter record")
	ErrMalformedRecord = errors.New("malformed counter record")
	ErrStorage         = errors.New("counter storage failure")
	ErrNumberExhausted = errors.New("number range exhausted")
)

// State is the persisted counter record: the last number issued and the day it
// was issued on.
type State struct {
	LastNumber int64
	Date       string
}

// String renders the record as "lastNumber,date".
func (s State) String() string {
	return strconv.FormatInt(s.LastNumber, 10) + "," + s.Date
}

// ParseRecord parses a "lastNumber,date" record.
// 任何无法解析的内容都返回 ErrMalformedRecord，由调用方决定是否当作“无记录”处理
func ParseRecord(raw string) (State, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return State{}, fmt.Errorf("%w: empty", ErrMalformedRecord)
	}

	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return State{}, fmt.Errorf("%w: expected 2 fields, got %d", ErrMalformedRecord, len(parts))
	}

	num, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return State{}, fmt.Errorf("%w: last number %q", ErrMalformedRecord, parts[0])
	}
	if num < 1 {
		return State{}, fmt.Errorf("%w: last number %d < 1", ErrMalformedRecord, num)
	}

	date := strings.TrimSpace(parts[1])
	if _, err := time.Parse(DateLayout, date); err != nil {
		return State{}, fmt.Errorf("%w: date %q", ErrMalformedRecord, parts[1])
	}

	return State{LastNumber: num, Date: date}, nil
}
