// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldEventID   = "event_id"
	FieldQueryHash = "query_hash"

	// Pipeline fields
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldEventKind = "event_kind"
	FieldLine      = "line"

	// Transport fields
	FieldBaseURL = "base_url"
	FieldStatus  = "status"
	FieldCharset = "charset"

	// Cache fields
	FieldCacheKey  = "cache_key"
	FieldCacheSize = "cache_size"
)
