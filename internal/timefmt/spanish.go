// Package timefmt renders timestamps in Mexican Spanish for classifier prompts
// and customer-facing replies.
package timefmt

import (
	"fmt"
	"time"
)

var days = [...]string{
	"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado",
}

var months = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// Long renders e.g. "lunes 2 de marzo de 2026 a las 15:04:05".
func Long(t time.Time) string {
	return fmt.Sprintf("%s %d de %s de %d a las %02d:%02d:%02d",
		days[t.Weekday()], t.Day(), months[t.Month()-1], t.Year(),
		t.Hour(), t.Minute(), t.Second())
}

// Event renders e.g. "lunes 2 de marzo 2026, 15:04" for calendar listings.
func Event(t time.Time) string {
	return fmt.Sprintf("%s %d de %s %d, %02d:%02d",
		days[t.Weekday()], t.Day(), months[t.Month()-1], t.Year(),
		t.Hour(), t.Minute())
}

// Short renders "02/03/2026 a las 15:04" for booking confirmations.
func Short(t time.Time) string {
	return fmt.Sprintf("%02d/%02d/%04d a las %02d:%02d",
		t.Day(), t.Month(), t.Year(), t.Hour(), t.Minute())
}
