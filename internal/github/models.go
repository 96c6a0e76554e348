package github

import "time"

// DeviceAuthorization is one device flow attempt as issued by GitHub
type DeviceAuthorization struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        time.Duration
	ExpiresAt       time.Time
}

// Expired reports whether the device code is past its deadline at now
func (d *DeviceAuthorization) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// Credential is the bearer token obtained from a completed device flow
type Credential struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// UserProfile is the cached identity of the signed-in user
type UserProfile struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url"`
}

// Contributions is the contribution calendar, weeks ordered oldest to newest
type Contributions struct {
	Weeks []Week `json:"weeks"`
}

type Week struct {
	Days []Day `json:"days"`
}

// Day is a single calendar cell. Date is an ISO date (2006-01-02).
type Day struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
	Level int    `json:"level"`
}

// Days returns every day of the calendar in chronological order
func (c *Contributions) Days() []Day {
	var days []Day
	for _, w := range c.Weeks {
		days = append(days, w.Days...)
	}
	return days
}

// LastWeeks returns at most n of the most recent weeks
func (c *Contributions) LastWeeks(n int) []Week {
	if n <= 0 || n >= len(c.Weeks) {
		return c.Weeks
	}
	return c.Weeks[len(c.Weeks)-n:]
}

// Total returns the sum of all day counts
func (c *Contributions) Total() int {
	total := 0
	for _, d := range c.Days() {
		total += d.Count
	}
	return total
}

// Today returns the newest day of the calendar
func (c *Contributions) Today() (Day, bool) {
	days := c.Days()
	if len(days) == 0 {
		return Day{}, false
	}
	return days[len(days)-1], true
}

// CurrentStreak counts consecutive days with contributions ending at the
// newest day. A newest day with no contributions yet does not break it.
func (c *Contributions) CurrentStreak() int {
	days := c.Days()
	streak := 0
	for i := len(days) - 1; i >= 0; i-- {
		if days[i].Count > 0 {
			streak++
			continue
		}
		if i == len(days)-1 {
			continue
		}
		break
	}
	return streak
}
