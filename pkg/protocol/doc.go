// Package protocol provides a GUID-keyed protocol database in which drivers
// publish their interfaces, together with EFI-style status codes.
//
// A protocol is installed once per GUID. Installing a second interface under
// the same GUID fails with ErrAlreadyStarted, which callers that publish
// security-relevant surfaces treat as fatal.
package protocol
