package server

import (
	"strconv"
)

// parseSensorDataID accepts only base-10 unsigned 64-bit ids. Signs,
// whitespace and underscores are rejected.
func parseSensorDataID(value string) (uint64, error) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, invalidRequestError("id", "id must be a non-negative integer")
	}
	return id, nil
}
