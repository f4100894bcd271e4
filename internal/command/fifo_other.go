//go:build !unix

package command

import (
	"errors"
	"os"
)

var errNoFIFO = errors.New("named pipes are not supported on this platform")

func makeFIFO(string) error {
	return errNoFIFO
}

func openWriter(string) (*os.File, error) {
	return nil, errNoFIFO
}
