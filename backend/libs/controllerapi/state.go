package controllerapi

import "strings"

// connectedCodes are the IEC 61851 states with a vehicle plugged in.
var connectedCodes = map[string]struct{}{
	"B1": {},
	"B2": {},
	"C1": {},
	"C2": {},
	"D1": {},
	"D2": {},
}

// VehicleConnected reports whether an iec_61851_state code means a vehicle is plugged in.
// Matching is exact after trimming whitespace.
func VehicleConnected(code string) bool {
	_, ok := connectedCodes[strings.TrimSpace(code)]
	return ok
}
