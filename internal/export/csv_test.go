package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcastell/convo/internal/store"
)

func TestWriteCSV(t *testing.T) {
	at := time.Date(2026, 9, 1, 16, 30, 0, 0, time.UTC)
	entries := []store.HistoryEntry{
		{Sender: store.SenderCustomer, Message: "hola, ¿precios?", At: at},
		{Sender: store.SenderBot, Message: "Con gusto, aquí van.", At: at.Add(time.Minute)},
		{Sender: store.SenderOperator, Message: "te marco ahorita", At: at.Add(2 * time.Minute)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, entries, time.UTC))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "fecha,remitente,mensaje", lines[0])
	assert.Contains(t, lines[1], "Cliente")
	assert.Contains(t, lines[1], "2026-09-01 16:30:00")
	assert.Contains(t, lines[2], "Bot")
	assert.Contains(t, lines[3], "Negocio")
}

func TestWriteCSVQuotesCommas(t *testing.T) {
	entries := []store.HistoryEntry{
		{Sender: store.SenderBot, Message: "Abrimos lunes, martes y miércoles", At: time.Now()},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, entries, nil))

	assert.Contains(t, buf.String(), `"Abrimos lunes, martes y miércoles"`)
}

func TestFileName(t *testing.T) {
	now := time.Date(2026, 9, 1, 16, 30, 5, 0, time.UTC)
	assert.Equal(t, "chat_5218112345678_20260901_163005.csv", FileName("5218112345678", now))
}
