package crawler

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Cursor is the "since" marker sent to the listing endpoint. It equals the
// largest identity key seen in the previous page and only moves forward.
type Cursor int64

// RemainingUnknown marks a response that carried no remaining-quota header.
const RemainingUnknown = -1

// RateState is the quota snapshot carried by every upstream response.
type RateState struct {
	// Remaining is the number of calls left in the window, or RemainingUnknown.
	Remaining int
	// Reset is the absolute time at which the window refills.
	Reset time.Time
}

// ListingRecord is one entry of a listing page.
type ListingRecord struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	AvatarURL string `json:"avatar_url"`
}

// ListingResponse is the outcome of a single listing request, before any retry.
type ListingResponse struct {
	Status  int
	Rate    RateState
	Records []ListingRecord
}

// DetailRecord holds the enriched attributes returned by the detail endpoint.
// Absent fields stay at their zero value.
type DetailRecord struct {
	ID        int64     `json:"id"`
	Login     string    `json:"login"`
	CreatedAt Timestamp `json:"created_at"`
	Bio       *string   `json:"bio"`
}

// DetailResponse is the outcome of a single detail request.
type DetailResponse struct {
	Status int
	Rate   RateState
	Record DetailRecord
}

// Page is a successful listing page returned by the PageFetcher.
type Page struct {
	Cursor  Cursor
	Records []ListingRecord
	Rate    RateState
}

// RawEntity is a listing record merged with its detail lookup.
type RawEntity struct {
	ID        int64     `json:"id"`
	Login     string    `json:"login"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt Timestamp `json:"created_at"`
	Bio       *string   `json:"bio"`
}

// CuratedEntity is a RawEntity that passed the curation filter. It is the
// record shape of the curated snapshot consumed by the lookup catalog.
type CuratedEntity RawEntity

// Raw converts the curated record back to its raw form.
func (c CuratedEntity) Raw() RawEntity {
	return RawEntity(c)
}

// BioText returns the biography or "" when absent.
func (e RawEntity) BioText() string {
	if e.Bio == nil {
		return ""
	}
	return *e.Bio
}

// Timestamp is a nullable point in time that tolerates the loose date formats
// found in upstream payloads and older snapshots. Unparseable input decodes to
// an invalid Timestamp instead of failing the whole document.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// NewTimestamp wraps t as a valid Timestamp in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC(), Valid: true}
}

// ParseTimestamp parses raw in any common date layout. Blank or unparseable
// input yields an invalid Timestamp.
func ParseTimestamp(raw string) Timestamp {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Timestamp{}
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return Timestamp{}
	}
	return NewTimestamp(t)
}

// After reports whether the timestamp is valid and strictly after cutoff.
func (t Timestamp) After(cutoff time.Time) bool {
	return t.Valid && t.Time.After(cutoff)
}

// MarshalJSON encodes a valid timestamp as an RFC 3339 string and an invalid one as null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts null, any parseable date string, or anything else as invalid.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = ParseTimestamp(raw)
	return nil
}
