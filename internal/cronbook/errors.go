package cronbook

import "errors"

var (
	ErrInvalidExpression = errors.New("invalid cron expression")
	ErrUnknownTimezone   = errors.New("unknown timezone")
	ErrNotFound          = errors.New("event not found")
	ErrNoOccurrence      = errors.New("expression never fires")
	ErrDispatch          = errors.New("dispatch failed")
	ErrStoreIO           = errors.New("cron store i/o")
	// ErrEmptyCommand is returned by Add when there is nothing to schedule.
	ErrEmptyCommand      = errors.New("empty command")
)
