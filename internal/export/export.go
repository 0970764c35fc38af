// Package export renders the waitlist as CSV or JSON and ships it to S3.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aurlink/waitlist/internal/domain"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{"position", "email", "referral_code", "invite_code", "referral_count", "source", "confirmed", "created_at"}

// Document is the JSON export envelope.
type Document struct {
	Data       []domain.Subscriber `json:"data"`
	Count      int                 `json:"count"`
	ExportedAt time.Time           `json:"exportedAt"`
}

func NewDocument(subs []domain.Subscriber, at time.Time) Document {
	if subs == nil {
		subs = []domain.Subscriber{}
	}
	return Document{Data: subs, Count: len(subs), ExportedAt: at.UTC()}
}

// WriteCSV writes one row per subscriber in the order given.
func WriteCSV(w io.Writer, subs []domain.Subscriber) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, s := range subs {
		row := []string{
			strconv.Itoa(s.Position),
			safeCell(s.Email),
			safeCell(s.ReferralCode),
			s.InviteCode,
			strconv.Itoa(s.ReferralCount),
			safeCell(s.Source),
			strconv.FormatBool(s.Confirmed),
			s.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row %d: %w", s.Position, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// safeCell quotes user-supplied text that a spreadsheet would otherwise
// evaluate as a formula.
func safeCell(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

func WriteJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding json export: %w", err)
	}
	return nil
}

// Write renders subs in format.
func Write(w io.Writer, format string, subs []domain.Subscriber, at time.Time) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, subs)
	case FormatJSON, "":
		return WriteJSON(w, NewDocument(subs, at))
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}
