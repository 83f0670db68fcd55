package ingest

// Error codes quoted to users for support reference.
//
// # Header and configuration (HDR, CFG)
//
//	HDR001 - the configured identifier column is not in the header
//	CFG001 - the delimiter is empty or longer than one character
//	CFG002 - the character set name is unknown
//
// # Files (FILE)
//
//	FILE001 - upload exceeds INGEST_MAX_FILE_SIZE
//	FILE002 - reading the file failed part way
//	FILE004 - the request carried no file
//
// # Ingest lifecycle (ING)
//
//	ING001 - every ingest slot is busy
//	ING002 - unknown or expired ingest ID
//	ING003 - cancelled by the user
//	ING004 - the ingest has not finished yet
//	ING005 - malformed ingest ID
//	ING006 - the ingest or request ran out of time
//
// # Documents and database (DOC, DB)
//
//	DOC001 - no document stored under the URI
//	DOC002 - document lookup without a uri parameter
//	DB001  - database unreachable
//	DB002  - database connection dropped
//	DB003  - conflicting concurrent writes
//
// ERR000 is the fallback; the technical error is in the logs.
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// Lifecycle errors returned by Service.
var (
	ErrIngestNotFound = errors.New("ingest not found")
	ErrIngestRunning  = errors.New("ingest still running")
	ErrCancelled      = errors.New("ingest cancelled")
	ErrInvalidID      = errors.New("invalid ingest id")
)

// UserMessage is an error rewritten for the person who triggered it.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"id column not found", UserMessage{
		Message: "The identifier column is not in the file header",
		Action:  "Check the id_column setting against the first line of the file",
		Code:    "HDR001",
	}},
	{"invalid delimiter", UserMessage{
		Message: "The delimiter must be exactly one character",
		Action:  "Use a single character such as , ; | or tab",
		Code:    "CFG001",
	}},
	{"unknown encoding", UserMessage{
		Message: "The character set is not recognised",
		Action:  "Use a standard name such as utf-8 or windows-1252",
		Code:    "CFG002",
	}},
	{"file too large", UserMessage{
		Message: "The file exceeds the maximum upload size",
		Action:  "Split the file into smaller parts",
		Code:    "FILE001",
	}},
	{"read line", UserMessage{
		Message: "The file could not be read completely",
		Action:  "Upload the file again",
		Code:    "FILE002",
	}},
	{"no file provided", UserMessage{
		Message: "No file was provided",
		Action:  "Attach the file in the \"file\" form field",
		Code:    "FILE004",
	}},
	{"too many ingests", UserMessage{
		Message: "The system is busy with other files",
		Action:  "Please wait a moment and try again",
		Code:    "ING001",
	}},
	{"ingest not found", UserMessage{
		Message: "Ingest not found",
		Action:  "The ingest may have expired. Start a new one",
		Code:    "ING002",
	}},
	{"ingest cancelled", UserMessage{
		Message: "The ingest was cancelled",
		Action:  "Start a new ingest when ready",
		Code:    "ING003",
	}},
	{"ingest still running", UserMessage{
		Message: "The ingest has not finished yet",
		Action:  "Wait for it to complete and try again",
		Code:    "ING004",
	}},
	{"invalid ingest id", UserMessage{
		Message: "The ingest ID is malformed",
		Action:  "Use the ID returned when the ingest was started",
		Code:    "ING005",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "The operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "ING006",
	}},
	{"context canceled", UserMessage{
		Message: "The request was cancelled",
		Action:  "Please try again",
		Code:    "ING003",
	}},
	{"missing uri", UserMessage{
		Message: "The uri query parameter is required",
		Action:  "Add ?uri=... to the request",
		Code:    "DOC002",
	}},
	{"not found", UserMessage{
		Message: "No document is stored under that URI",
		Action:  "Check the URI, including prefix and suffix",
		Code:    "DOC001",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB001",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB002",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting writes",
		Action:  "Please try again",
		Code:    "DB003",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. A nil
// error maps to the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	s := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(s, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
