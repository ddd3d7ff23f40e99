// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldItemID    = "item_id"
	FieldSubmitter = "submitter"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"

	// Queue fields
	FieldStatus    = "status"
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"
	FieldPosition  = "position"

	// Media fields
	FieldURL      = "url"
	FieldPath     = "path"
	FieldTitle    = "title"
	FieldDuration = "duration_s"
	FieldSizeMB   = "size_mb"

	// Moderation fields
	FieldVerdict = "verdict"
	FieldPolicy  = "policy"
	FieldReason  = "reason"

	// Subprocess fields
	FieldBinary   = "binary"
	FieldPID      = "pid"
	FieldExitCode = "exit_code"
)
