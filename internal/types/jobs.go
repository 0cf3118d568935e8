package types

// HousekeepingJob is run once at startup, periodically, and once at shutdown.
type HousekeepingJob interface {
	Name() string
	First() error
	Sometimes() error
	Last() error
}
