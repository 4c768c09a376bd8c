//go:build !linux && !darwin

package preflight

import "errors"

var errUnsupported = errors.New("unsupported on this platform")

func freeBytes(string) (uint64, error) { return 0, errUnsupported }

func openFileLimit() (uint64, error) { return 0, errUnsupported }
