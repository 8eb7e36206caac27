package risk

import "errors"

var (
	ErrCalendarGap       = errors.New("calendar gap")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrStaleFeed         = errors.New("stale feed")
	ErrActionApply       = errors.New("action apply failed")
	ErrConfigInvalid     = errors.New("config invalid")
)
