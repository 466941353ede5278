package realtime

import (
	"fmt"
	"strings"
	"time"
)

// Locale selects the language of presence descriptions.
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleRU Locale = "ru"
)

// ParseLocale accepts "en" or "ru" in any case.
func ParseLocale(s string) (Locale, error) {
	switch l := Locale(strings.ToLower(strings.TrimSpace(s))); l {
	case LocaleEN, LocaleRU:
		return l, nil
	default:
		return "", fmt.Errorf("%w: unknown locale %q", ErrConfig, s)
	}
}

type phrases struct {
	online     string
	noData     string
	recently   string
	justNow    string
	minutesAgo func(n int64) string
	hoursAgo   func(n int64) string
	daysAgo    func(n int64) string
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

var localePhrases = map[Locale]phrases{
	LocaleEN: {
		online:     "online",
		noData:     "no data",
		recently:   "last seen recently",
		justNow:    "just now",
		minutesAgo: func(n int64) string { return fmt.Sprintf("%d %s ago", n, plural(n, "minute", "minutes")) },
		hoursAgo:   func(n int64) string { return fmt.Sprintf("%d %s ago", n, plural(n, "hour", "hours")) },
		daysAgo:    func(n int64) string { return fmt.Sprintf("%d %s ago", n, plural(n, "day", "days")) },
	},
	LocaleRU: {
		online:     "в сети",
		noData:     "нет данных",
		recently:   "был в сети",
		justNow:    "был в сети только что",
		minutesAgo: func(n int64) string { return fmt.Sprintf("был в сети %d мин назад", n) },
		hoursAgo:   func(n int64) string { return fmt.Sprintf("был в сети %d ч назад", n) },
		daysAgo:    func(n int64) string { return fmt.Sprintf("был в сети %d дн назад", n) },
	},
}

// DescribeEntry renders e relative to now. ok=false means the user is unknown.
//
// Buckets use floor division of elapsed milliseconds: under one minute is
// "just now", then minutes below 60, hours below 24, then days.
func DescribeEntry(e Entry, ok bool, now time.Time, locale Locale) string {
	p, found := localePhrases[locale]
	if !found {
		p = localePhrases[LocaleEN]
	}

	switch {
	case !ok:
		return p.noData
	case e.Online():
		return p.online
	case e.LastSeen == nil:
		return p.recently
	}

	elapsed := now.Sub(*e.LastSeen).Milliseconds()
	minutes := elapsed / 60_000
	hours := elapsed / 3_600_000
	days := elapsed / 86_400_000

	switch {
	case minutes < 1:
		return p.justNow
	case minutes < 60:
		return p.minutesAgo(minutes)
	case hours < 24:
		return p.hoursAgo(hours)
	default:
		return p.daysAgo(days)
	}
}
