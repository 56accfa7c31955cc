package render

import (
	"fmt"
	"strings"
	"time"
)

// momentTokens is ordered longest first so that greedy matching picks
// "YYYY" before "YY".
var momentTokens = []string{
	"YYYY", "GGGG", "gggg", "MMMM", "dddd", "DDDD",
	"MMM", "ddd", "DDD", "SSS",
	"YY", "MM", "DD", "Do", "dd", "HH", "hh", "mm", "ss", "ZZ", "WW", "ww",
	"M", "D", "d", "H", "h", "m", "s", "A", "a", "Z", "W", "w", "Q", "X", "x",
}

// FormatMoment formats t with a moment.js style pattern, the notation
// calendar and daily-note tools use. Text in square brackets is literal and
// unknown characters pass through unchanged.
func FormatMoment(t time.Time, pattern string) string {
	var out strings.Builder
	for i := 0; i < len(pattern); {
		if pattern[i] == '[' {
			end := strings.IndexByte(pattern[i+1:], ']')
			if end >= 0 {
				out.WriteString(pattern[i+1 : i+1+end])
				i += end + 2
				continue
			}
		}
		token := matchToken(pattern[i:])
		if token == "" {
			out.WriteByte(pattern[i])
			i++
			continue
		}
		out.WriteString(formatToken(t, token))
		i += len(token)
	}
	return out.String()
}

func matchToken(s string) string {
	for _, token := range momentTokens {
		if strings.HasPrefix(s, token) {
			return token
		}
	}
	return ""
}

func formatToken(t time.Time, token string) string {
	isoYear, isoWeek := t.ISOWeek()
	switch token {
	case "YYYY", "gggg":
		return fmt.Sprintf("%04d", t.Year())
	case "GGGG":
		return fmt.Sprintf("%04d", isoYear)
	case "YY":
		return fmt.Sprintf("%02d", t.Year()%100)
	case "MMMM":
		return t.Month().String()
	case "MMM":
		return t.Month().String()[:3]
	case "MM":
		return fmt.Sprintf("%02d", int(t.Month()))
	case "M":
		return fmt.Sprintf("%d", int(t.Month()))
	case "Q":
		return fmt.Sprintf("%d", (int(t.Month())-1)/3+1)
	case "DDDD":
		return fmt.Sprintf("%03d", t.YearDay())
	case "DDD":
		return fmt.Sprintf("%d", t.YearDay())
	case "DD":
		return fmt.Sprintf("%02d", t.Day())
	case "D":
		return fmt.Sprintf("%d", t.Day())
	case "Do":
		return ordinal(t.Day())
	case "dddd":
		return t.Weekday().String()
	case "ddd":
		return t.Weekday().String()[:3]
	case "dd":
		return t.Weekday().String()[:2]
	case "d":
		return fmt.Sprintf("%d", int(t.Weekday()))
	case "WW", "ww":
		return fmt.Sprintf("%02d", isoWeek)
	case "W", "w":
		return fmt.Sprintf("%d", isoWeek)
	case "HH":
		return fmt.Sprintf("%02d", t.Hour())
	case "H":
		return fmt.Sprintf("%d", t.Hour())
	case "hh":
		return fmt.Sprintf("%02d", twelveHour(t.Hour()))
	case "h":
		return fmt.Sprintf("%d", twelveHour(t.Hour()))
	case "mm":
		return fmt.Sprintf("%02d", t.Minute())
	case "m":
		return fmt.Sprintf("%d", t.Minute())
	case "ss":
		return fmt.Sprintf("%02d", t.Second())
	case "s":
		return fmt.Sprintf("%d", t.Second())
	case "SSS":
		return fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
	case "A":
		if t.Hour() < 12 {
			return "AM"
		}
		return "PM"
	case "a":
		if t.Hour() < 12 {
			return "am"
		}
		return "pm"
	case "Z":
		return t.Format("-07:00")
	case "ZZ":
		return t.Format("-0700")
	case "X":
		return fmt.Sprintf("%d", t.Unix())
	case "x":
		return fmt.Sprintf("%d", t.UnixMilli())
	default:
		return token
	}
}

func twelveHour(hour int) int {
	if hour%12 == 0 {
		return 12
	}
	return hour % 12
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
