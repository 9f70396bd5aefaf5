package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

// Is reports whether any error in err's chain carries this code.
func (c Code[MT]) Is(err error) bool {
	var e Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Code() == c.Code
}

// ExitCode maps err to a process exit status: 0 without error, 64 plus the
// grpc status code for typed errors, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e Error
	if !stderrors.As(err, &e) {
		return 1
	}
	return exitCodeBase + int(e.GrpcCode())
}

const exitCodeBase = 64

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithFields(log.Fields{
		"name":     e.code.Name,
		"code":     e.code.Code,
		"metadata": e.metadata,
	})
}

// Metadata flattens the typed metadata into its json fields, stringified.
func (e *ErrorImpl[MT]) Metadata() map[string]string {
	buf, err := json.Marshal(e.metadata)
	if err != nil {
		return map[string]string{}
	}
	fields := map[string]any{}
	if err := json.Unmarshal(buf, &fields); err != nil {
		return map[string]string{}
	}

	metadata := make(map[string]string, len(fields))
	for k, v := range fields {
		if v == nil {
			metadata[k] = ""
			continue
		}
		metadata[k] = fmt.Sprint(v)
	}
	return metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

type FundsMetadata struct {
	Stage     string `json:"stage"`
	Available uint64 `json:"available"`
	Required  uint64 `json:"required"`
}

type TooManyInputsMetadata struct {
	Inputs    int `json:"inputs"`
	MaxInputs int `json:"max_inputs"`
}

type SourceAddressMetadata struct {
	Line    int    `json:"line"`
	Address string `json:"address"`
}

type SourceLineMetadata struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
}

type CollectionMetadata struct {
	CollectionId string `json:"collection_id"`
}

type AssetMetadata struct {
	CollectionId string `json:"collection_id"`
	LocalId      string `json:"local_id"`
}

type NetworkMetadata struct {
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status,omitempty"`
}

type GuardMismatchMetadata struct {
	InputIndex int    `json:"input_index"`
	Expected   string `json:"expected"`
	Got        string `json:"got"`
}

var INSUFFICIENT_FUNDS = Code[FundsMetadata]{
	1,
	"INSUFFICIENT_FUNDS",
	grpccodes.FailedPrecondition,
}

var INSUFFICIENT_PROBE_FUNDS = Code[FundsMetadata]{
	2,
	"INSUFFICIENT_PROBE_FUNDS",
	grpccodes.Internal,
}

var TOO_MANY_INPUTS = Code[TooManyInputsMetadata]{
	3,
	"TOO_MANY_INPUTS",
	grpccodes.InvalidArgument,
}

var INVALID_SOURCE_ADDRESS = Code[SourceAddressMetadata]{
	4,
	"INVALID_SOURCE_ADDRESS",
	grpccodes.InvalidArgument,
}

var COLLECTION_NOT_FOUND = Code[CollectionMetadata]{
	5,
	"COLLECTION_NOT_FOUND",
	grpccodes.NotFound,
}
var ASSET_NOT_FOUND = Code[AssetMetadata]{6, "ASSET_NOT_FOUND", grpccodes.NotFound}
var NETWORK_ERROR = Code[NetworkMetadata]{7, "NETWORK_ERROR", grpccodes.Unavailable}

var GUARD_MISMATCH = Code[GuardMismatchMetadata]{
	8,
	"GUARD_MISMATCH",
	grpccodes.InvalidArgument,
}

var INVALID_SOURCE_LINE = Code[SourceLineMetadata]{
	9,
	"INVALID_SOURCE_LINE",
	grpccodes.InvalidArgument,
}
