package error

import (
	"fmt"
	"net/http"
)

// ServerSlot describes one alternative tenancy a caller may retry against.
type ServerSlot struct {
	Name      string `json:"name"`
	FreeSlots int    `json:"free_slots"`
}

// CapacityError is returned when a tenancy (or the whole fleet) cannot take
// another bot. Alternatives lists servers that still have room.
type CapacityError struct {
	Server       string       `json:"server"`
	Current      int          `json:"current"`
	Max          int          `json:"max"`
	Alternatives []ServerSlot `json:"alternatives,omitempty"`
}

func (err CapacityError) Error() string {
	if err.Server == "" {
		return "all servers are full"
	}
	return fmt.Sprintf("%s is full (%d/%d). Please select a different server", err.Server, err.Current, err.Max)
}

func (err CapacityError) ErrCode() string {
	return "CAPACITY_ERROR"
}

func (err CapacityError) StatusCode() int {
	return http.StatusBadRequest
}

// ConflictError covers duplicate names, duplicate credentials and phones
// already registered to another tenancy. RegisteredTo is set when the
// conflict is a god-registry hit so callers can point the user at the
// owning server.
type ConflictError struct {
	Message      string `json:"message"`
	RegisteredTo string `json:"registered_to,omitempty"`
}

func (err ConflictError) Error() string {
	return err.Message
}

func (err ConflictError) ErrCode() string {
	return "CONFLICT_ERROR"
}

func (err ConflictError) StatusCode() int {
	return http.StatusBadRequest
}

// RPCError marks a failed cross-tenancy call: bad signature, unknown peer
// or a transport failure surfaced to the caller.
type RPCError struct {
	Message   string `json:"message"`
	Status    int    `json:"-"`
	Transport bool   `json:"transport,omitempty"`
}

func (err RPCError) Error() string {
	return err.Message
}

func (err RPCError) ErrCode() string {
	return "RPC_ERROR"
}

func (err RPCError) StatusCode() int {
	if err.Status == 0 {
		return http.StatusUnauthorized
	}
	return err.Status
}
