package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidInput is a category sentinel. Pair it with NewSubSystemError for
// subsystem-specific codes.
var ErrInvalidInput = fmt.Errorf("invalid input")

// Sentinel errors for the bridge.
var (
	// Library lifecycle and gating.
	ErrNotInitialized     = fmt.Errorf("the library has not yet been initialized")
	ErrInvalidContext     = fmt.Errorf("call not allowed in current frame context")
	ErrUnknownContext     = fmt.Errorf("unknown frame context")
	ErrHostRejected       = fmt.Errorf("host rejected request")
	ErrTransportClosed    = fmt.Errorf("transport closed")
	ErrCircuitOpen        = fmt.Errorf("transport circuit open")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrEncryption         = fmt.Errorf("encryption operation failed")
	ErrJournalWrite       = fmt.Errorf("journal write failed")
	ErrDiscoveryFailed    = fmt.Errorf("host discovery failed")
	ErrRateLimit          = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid        = fmt.Errorf("authentication failed")
	ErrGatewayAuthFailed  = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound  = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload  = fmt.Errorf("rpc payload invalid")
	ErrHandshakeMalformed = fmt.Errorf("handshake response malformed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "chat.OpenGroupChat")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "chat", "transport"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// InvalidContextError reports a call made outside its allowed frame contexts.
type InvalidContextError struct {
	Allowed []FrameContext
	Current FrameContext
}

func (e *InvalidContextError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, c := range e.Allowed {
		allowed[i] = string(c)
	}
	list, _ := json.Marshal(allowed)
	return fmt.Sprintf("this call is only allowed in following contexts: %s. Current context: %q",
		list, string(e.Current))
}

func (e *InvalidContextError) Unwrap() error { return ErrInvalidContext }

// HostError carries a failure reported by the host. Message is surfaced verbatim.
type HostError struct {
	FuncName string
	Message  string
}

func (e *HostError) Error() string { return e.Message }

func (e *HostError) Unwrap() error { return ErrHostRejected }

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotInitialized    ErrorCode = "NOT_INITIALIZED"
	CodeInvalidContext    ErrorCode = "INVALID_CONTEXT"
	CodeUnknownContext    ErrorCode = "UNKNOWN_CONTEXT"
	CodeHostRejected      ErrorCode = "HOST_REJECTED"
	CodeTransportClosed   ErrorCode = "TRANSPORT_CLOSED"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeEncryption        ErrorCode = "ENCRYPTION"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeJournalWrite      ErrorCode = "JOURNAL_WRITE"
	CodeDiscoveryFailed   ErrorCode = "DISCOVERY_FAILED"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeGatewayAuth       ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeHandshake         ErrorCode = "HANDSHAKE_MALFORMED"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeEmptyRecipients ErrorCode = "EMPTY_RECIPIENT_LIST"
	CodeMissingField    ErrorCode = "MISSING_FIELD"

	// Category fallback code, used when no subsystem-specific code matches.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidInput: CodeInvalidInput,

	ErrNotInitialized:     CodeNotInitialized,
	ErrInvalidContext:     CodeInvalidContext,
	ErrUnknownContext:     CodeUnknownContext,
	ErrHostRejected:       CodeHostRejected,
	ErrTransportClosed:    CodeTransportClosed,
	ErrCircuitOpen:        CodeCircuitOpen,
	ErrConfigLoad:         CodeConfigLoad,
	ErrEncryption:         CodeEncryption,
	ErrDecryption:         CodeDecryption,
	ErrJournalWrite:       CodeJournalWrite,
	ErrDiscoveryFailed:    CodeDiscoveryFailed,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrGatewayAuthFailed:  CodeGatewayAuth,
	ErrRPCMethodNotFound:  CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:  CodeRPCInvalidPayload,
	ErrHandshakeMalformed: CodeHandshake,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrInvalidInput: {
		"chat.group":  CodeEmptyRecipients,
		"chat.single": CodeMissingField,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// ErrGatewayAuthFailed wraps ErrAuthInvalid, so check it before the map walk.
	if errors.Is(err, ErrGatewayAuthFailed) {
		return CodeGatewayAuth
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
