package query

import (
	"time"

	"github.com/rs/zerolog"
)

// Options configures a Client.
type Options struct {
	// Name labels the client in metrics and logs.
	Name string
	// StaleTime is how long a successful result counts as fresh. Zero means
	// every new observation of a key refetches it.
	StaleTime time.Duration
	Logger    *zerolog.Logger
	// Now is used for freshness decisions; defaults to time.Now.
	Now func() time.Time
}

// Placeholder selects what an observer shows while its new key has no data.
type Placeholder int

const (
	// PlaceholderPrevious shows the observer's last successful data from any
	// earlier key.
	PlaceholderPrevious Placeholder = iota
	// PlaceholderSameScope shows earlier data only when the new key has the
	// same Scope as the key that produced it.
	PlaceholderSameScope
	// PlaceholderNone shows nothing until the new key resolves.
	PlaceholderNone
)

func (p Placeholder) String() string {
	switch p {
	case PlaceholderPrevious:
		return "previous"
	case PlaceholderSameScope:
		return "same_scope"
	case PlaceholderNone:
		return "none"
	default:
		return "unknown"
	}
}

// ObserverOptions configures an Observer.
type ObserverOptions struct {
	Placeholder Placeholder
}
