// Package export renders a conversation's retained history as CSV for the
// /chat side-channel command and the HTTP export endpoint.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/mcastell/convo/internal/store"
)

var header = []string{"fecha", "remitente", "mensaje"}

// senderLabel maps the stored sender codes to the labels used in exports.
func senderLabel(sender string) string {
	switch sender {
	case store.SenderCustomer:
		return "Cliente"
	case store.SenderBot:
		return "Bot"
	case store.SenderOperator:
		return "Negocio"
	default:
		return sender
	}
}

// WriteCSV streams the history to w, oldest first, one row per message.
func WriteCSV(w io.Writer, entries []store.HistoryEntry, zone *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		at := e.At
		if zone != nil {
			at = at.In(zone)
		}
		row := []string{at.Format("2006-01-02 15:04:05"), senderLabel(e.Sender), e.Message}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName returns a per-conversation export name with a timestamp.
func FileName(phone string, now time.Time) string {
	return fmt.Sprintf("chat_%s_%s.csv", phone, now.Format("20060102_150405"))
}
