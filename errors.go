package resource

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeUnknownAttribute ErrorType = "unknown_attribute"
	ErrorTypeReadOnly         ErrorType = "read_only_attribute"
	ErrorTypeInvalidValue     ErrorType = "invalid_value"
	ErrorTypePropertyNotSet   ErrorType = "property_not_set"
	ErrorTypePropertyFrozen   ErrorType = "property_frozen"
	ErrorTypeRemoteCall       ErrorType = "remote_call_failed"
	ErrorTypeListInError      ErrorType = "list_in_error"
	ErrorTypeInternal         ErrorType = "internal"
)

// Error codes
const (
	ErrCodeUnknownAttribute     = "UNKNOWN_ATTRIBUTE"
	ErrCodeAttributeUnsupported = "ATTRIBUTE_UNSUPPORTED_AT_LEVEL"
	ErrCodeReadOnlyAttribute    = "READ_ONLY_ATTRIBUTE"
	ErrCodeTypeMismatch         = "TYPE_MISMATCH"
	ErrCodeIllegalValue         = "ILLEGAL_VALUE"
	ErrCodeEncodeFailed         = "ENCODE_FAILED"
	ErrCodeDecodeFailed         = "DECODE_FAILED"
	ErrCodeInvalidDescriptor    = "INVALID_DESCRIPTOR"
	ErrCodeRegistryFrozen       = "REGISTRY_FROZEN"
	ErrCodePropertyNotSet       = "PROPERTY_NOT_SET"
	ErrCodePropertyFrozen       = "PROPERTY_FROZEN"
	ErrCodeFetchFailed          = "FETCH_FAILED"
	ErrCodeApplyFailed          = "APPLY_FAILED"
	ErrCodeConnectFailed        = "CONNECT_FAILED"
	ErrCodeListQueryFailed      = "LIST_QUERY_FAILED"
	ErrCodeListPageFailed       = "LIST_PAGE_FAILED"
	ErrCodeCircuitOpen          = "CIRCUIT_OPEN"
	ErrCodeSnapshotFailed       = "SNAPSHOT_FAILED"
	ErrCodeCollaboratorMissing  = "COLLABORATOR_MISSING"
	ErrCodeCatalogNotFound      = "CATALOG_NOT_FOUND"
	ErrCodeCatalogInvalid       = "CATALOG_INVALID"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// Error is the unified error of the resource engine.
type Error struct {
	Type      ErrorType      `json:"type"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Kind      string         `json:"kind,omitempty"`
	Attribute AttributeID    `json:"attribute,omitempty"`
	Operation OperationID    `json:"operation,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Attribute != "" {
		return fmt.Sprintf("[%s:%s] attribute '%s': %s", e.Type, e.Code, e.Attribute, msg)
	}
	if e.Operation != "" {
		return fmt.Sprintf("[%s:%s] operation '%s': %s", e.Type, e.Code, e.Operation, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same Type, and of the same Code when target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Type != e.Type {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// WithDetail adds a single detail
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithDetails adds details
func (e *Error) WithDetails(details map[string]any) *Error {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// WithCause adds a cause
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithKind adds entity kind context
func (e *Error) WithKind(kind string) *Error {
	e.Kind = kind
	return e
}

// WithOperation adds backing operation context
func (e *Error) WithOperation(op OperationID) *Error {
	e.Operation = op
	return e
}

// Sentinels for errors.Is comparisons. They match on Type only.
var (
	ErrUnknownAttribute  = &Error{Type: ErrorTypeUnknownAttribute}
	ErrReadOnlyAttribute = &Error{Type: ErrorTypeReadOnly}
	ErrInvalidValue      = &Error{Type: ErrorTypeInvalidValue}
	ErrPropertyNotSet    = &Error{Type: ErrorTypePropertyNotSet}
	ErrPropertyFrozen    = &Error{Type: ErrorTypePropertyFrozen}
	ErrRemoteCallFailed  = &Error{Type: ErrorTypeRemoteCall}
	ErrListInError       = &Error{Type: ErrorTypeListInError}
)

// IsType reports whether err is an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Type == t
	}
	return false
}

// NewError creates a new Error
func NewError(errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewUnknownAttributeError reports an unregistered id.
func NewUnknownAttributeError(class DescriptorClass, id AttributeID) *Error {
	return &Error{
		Type:      ErrorTypeUnknownAttribute,
		Code:      ErrCodeUnknownAttribute,
		Message:   fmt.Sprintf("%s is not registered", class),
		Attribute: id,
	}
}

// NewUnsupportedAttributeError reports an id that does not exist at the remote level.
func NewUnsupportedAttributeError(id AttributeID, required, actual Level) *Error {
	return &Error{
		Type:      ErrorTypeUnknownAttribute,
		Code:      ErrCodeAttributeUnsupported,
		Message:   fmt.Sprintf("requires remote level %d, connected at %d", required, actual),
		Attribute: id,
		Details: map[string]any{
			"required_level": required,
			"actual_level":   actual,
		},
	}
}

// NewReadOnlyError reports a set attempt on a read-only id.
func NewReadOnlyError(id AttributeID) *Error {
	return &Error{
		Type:      ErrorTypeReadOnly,
		Code:      ErrCodeReadOnlyAttribute,
		Message:   "attribute is read-only",
		Attribute: id,
	}
}

// NewInvalidValueError reports a type or enumeration validation failure.
func NewInvalidValueError(id AttributeID, code, message string) *Error {
	return &Error{
		Type:      ErrorTypeInvalidValue,
		Code:      code,
		Message:   message,
		Attribute: id,
	}
}

// NewPropertyNotSetError reports a missing identity property.
func NewPropertyNotSetError(id AttributeID) *Error {
	return &Error{
		Type:      ErrorTypePropertyNotSet,
		Code:      ErrCodePropertyNotSet,
		Message:   "identity property is not set",
		Attribute: id,
	}
}

// NewPropertyFrozenError reports an identity property change after freezing.
func NewPropertyFrozenError(id AttributeID) *Error {
	return &Error{
		Type:      ErrorTypePropertyFrozen,
		Code:      ErrCodePropertyFrozen,
		Message:   "identity properties are frozen",
		Attribute: id,
	}
}

// NewRemoteCallError wraps a collaborator failure.
func NewRemoteCallError(code string, op OperationID, cause error) *Error {
	return &Error{
		Type:      ErrorTypeRemoteCall,
		Code:      code,
		Message:   "remote call failed",
		Operation: op,
		Cause:     cause,
	}
}

// NewListInError reports an unrecoverable failure during enumeration.
func NewListInError(kind string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeListInError,
		Code:    ErrCodeListPageFailed,
		Message: "list loading failed",
		Kind:    kind,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}
