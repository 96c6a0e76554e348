package waybar

import (
	"time"

	"github.com/bnema/waybar-pulse/internal/github"
)

const (
	// DataRefreshInterval is when an entry with data asks to be re-rendered
	DataRefreshInterval = 2 * time.Hour
	// NoDataRefreshInterval is used for signed-out and error entries
	NoDataRefreshInterval = 30 * time.Minute

	DefaultStaleAfter = 4 * time.Hour

	noDataMessage = "No contribution data available"
)

// EntryState is what the widget should show
type EntryState int

const (
	EntryAuthenticated EntryState = iota
	EntryStale
	EntryNotAuthenticated
	EntryError
)

func (s EntryState) String() string {
	switch s {
	case EntryAuthenticated:
		return "authenticated"
	case EntryStale:
		return "stale"
	case EntryNotAuthenticated:
		return "not_authenticated"
	case EntryError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is one render of the widget
type Entry struct {
	State         EntryState
	Contributions *github.Contributions
	LastUpdated   time.Time
	Message       string
	Date          time.Time
	NextUpdate    time.Time
}

// SnapshotReader is the read side of the snapshot store
type SnapshotReader interface {
	Retrieve() (*github.Contributions, bool)
	LastUpdated() (time.Time, bool)
	IsAuthenticated() bool
}

// Provider builds widget entries from the shared snapshot
type Provider struct {
	store      SnapshotReader
	staleAfter time.Duration
}

func NewProvider(store SnapshotReader, staleAfter time.Duration) *Provider {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Provider{store: store, staleAfter: staleAfter}
}

// Entry reads the snapshot and decides what to show at now
func (p *Provider) Entry(now time.Time) Entry {
	if !p.store.IsAuthenticated() {
		return Entry{
			State:      EntryNotAuthenticated,
			Date:       now,
			NextUpdate: now.Add(NoDataRefreshInterval),
		}
	}

	contributions, ok := p.store.Retrieve()
	if !ok {
		return Entry{
			State:      EntryError,
			Message:    noDataMessage,
			Date:       now,
			NextUpdate: now.Add(NoDataRefreshInterval),
		}
	}

	entry := Entry{
		State:         EntryStale,
		Contributions: contributions,
		Date:          now,
		NextUpdate:    now.Add(DataRefreshInterval),
	}

	if last, ok := p.store.LastUpdated(); ok {
		entry.LastUpdated = last
		if now.Sub(last) < p.staleAfter {
			entry.State = EntryAuthenticated
		}
	}

	return entry
}
