package stun

import "net"

// NewBindingRequest creates an unsigned Binding request with a fresh
// transaction ID. Callers add PRIORITY/USERNAME/role attributes and sign it
// before sending.
func NewBindingRequest() *Message {
	return NewMessage(ClassRequest, MethodBinding)
}

// NewBindingSuccessResponse creates a Binding success response echoing the
// given request's transaction ID, with XOR-MAPPED-ADDRESS set to mappedAddr
// (the request's observed source address).
func NewBindingSuccessResponse(id TransactionID, mappedAddr net.Addr) *Message {
	m := NewMessageWithID(ClassSuccessResponse, MethodBinding, id)
	m.SetXorMappedAddress(mappedAddr)
	return m
}

// NewBindingErrorResponse creates a Binding error response.
func NewBindingErrorResponse(id TransactionID, e ErrorCode) *Message {
	m := NewMessageWithID(ClassErrorResponse, MethodBinding, id)
	m.SetErrorCode(e)
	return m
}

// NewBindingIndication creates a Binding indication, used by the ICE
// connectivity checker as a keepalive for a selected candidate pair
// (RFC 8445 §11).
func NewBindingIndication() *Message {
	return NewMessage(ClassIndication, MethodBinding)
}

// RoleConflictError is the 487 error returned when both peers believe they
// are controlling (or controlled).
var RoleConflictError = ErrorCode{Code: 487, Reason: "Role Conflict"}
