package stash

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors used for control flow. Compare with errors.Is.
var (
	// ErrNotFound indicates a cache lookup found no entry for the key.
	ErrNotFound = errors.New("stash: entry not found")

	// ErrTooLarge indicates a captured result set exceeded the configured
	// per-entry size limit.
	ErrTooLarge = errors.New("stash: entry too large")
)

// CacheError represents a failure reported by the cache store, on either
// the read or the write path.
type CacheError struct {
	Code      string                 `json:"code"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Key       string                 `json:"key,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FormatError formats the error based on debug mode.
// When debugMode=false: returns simple "CODE: message" format.
// When debugMode=true: returns full JSON with key, details and timestamp.
func (e *CacheError) FormatError(debugMode bool) string {
	if !debugMode {
		return e.Error()
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if e.Key != "" {
		errorData["key"] = e.Key
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{
			"message": e.Cause.Error(),
		}
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error for errors.Is and errors.As compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// ErrStoreRead creates a CacheError for a failed cache read.
func ErrStoreRead(key string, cause error) *CacheError {
	return &CacheError{
		Code:      "E_STORE_READ",
		Type:      "CACHE_ERROR",
		Message:   "failed to read entry from cache store",
		Key:       key,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// ErrStoreWrite creates a CacheError for a failed cache write.
func ErrStoreWrite(key string, cause error) *CacheError {
	return &CacheError{
		Code:      "E_STORE_WRITE",
		Type:      "CACHE_ERROR",
		Message:   "failed to write entry to cache store",
		Key:       key,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// ErrStoreInvalidate creates a CacheError for a failed invalidation.
func ErrStoreInvalidate(cause error, tags []string) *CacheError {
	return &CacheError{
		Code:    "E_STORE_INVALIDATE",
		Type:    "CACHE_ERROR",
		Message: "failed to invalidate cache entries",
		Details: map[string]interface{}{
			"tags": tags,
		},
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// FormatError is a helper to format any error with debug mode support.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}

	type debugFormatter interface {
		FormatError(bool) string
	}

	if formatter, ok := err.(debugFormatter); ok {
		return formatter.FormatError(debugMode)
	}

	return err.Error()
}
