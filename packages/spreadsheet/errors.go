package spreadsheet

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeGeneric ErrorCode = 1 // #ERROR! - parse failures and all other errors
	ErrorCodeRef     ErrorCode = 2 // #REF! - invalid or deleted cell reference
	ErrorCodeNA      ErrorCode = 3 // #N/A - lookup produced no match
	ErrorCodeCirc    ErrorCode = 4 // #CIRC! - circular reference
	ErrorCodeDiv0    ErrorCode = 5 // #DIV/0! - division by zero
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeGeneric: "#ERROR!",
	ErrorCodeRef:     "#REF!",
	ErrorCodeNA:      "#N/A",
	ErrorCodeCirc:    "#CIRC!",
	ErrorCodeDiv0:    "#DIV/0!",
}

// errorLabels is the reverse of ErrorMapper, used by the lexer to
// recognize error literals embedded in formula text (a rebased formula
// may contain #REF! where a reference used to be).
var errorLabels = map[string]ErrorCode{
	"#ERROR!": ErrorCodeGeneric,
	"#REF!":   ErrorCodeRef,
	"#N/A":    ErrorCodeNA,
	"#CIRC!":  ErrorCodeCirc,
	"#DIV/0!": ErrorCodeDiv0,
}

// CellError preserves error code for display in cells. it flows through
// evaluation as a Primitive value, never as a Go error.
type CellError struct {
	ErrorCode ErrorCode
	Message   string
}

func (e *CellError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.ErrorCode]
}

// Label returns the display form regardless of Message.
func (e *CellError) Label() string {
	return ErrorMapper[e.ErrorCode]
}

func NewCellError(code ErrorCode, message string) *CellError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &CellError{
		ErrorCode: code,
		Message:   message,
	}
}

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error. Errors raised by APIs that do not return enough error
	// information may be converted to this error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (e.g., sheet or named range)
	// was not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution,
	// e.g. deleting the last remaining sheet of a workbook.
	FailedPrecondition AppErrorCode = 9

	// OutOfRange means operation was attempted past the valid range.
	OutOfRange AppErrorCode = 11

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

// AppError represents errors at the application level (not
// spreadsheet formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// SyntaxError reports a formula that could not be tokenized or parsed.
// callers store the formula text anyway and cache #ERROR! as the result.
type SyntaxError struct {
	Position int
	Message  string
}

func (e *SyntaxError) Error() string {
	return e.Message
}

func newSyntaxError(pos int, message string) *SyntaxError {
	return &SyntaxError{Position: pos, Message: message}
}
