// Package calendar detects scheduling conflicts and finds open slots.
//
// interval.go holds the pure interval math; availability.go binds it to an
// event source so callers can query by date or time range.
package calendar
