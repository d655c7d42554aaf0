package timefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpanishFormats(t *testing.T) {
	at := time.Date(2026, 9, 1, 15, 4, 5, 0, time.UTC) // a Tuesday

	assert.Equal(t, "martes 1 de septiembre de 2026 a las 15:04:05", Long(at))
	assert.Equal(t, "martes 1 de septiembre 2026, 15:04", Event(at))
	assert.Equal(t, "01/09/2026 a las 15:04", Short(at))
}
