// Package types defines the binary formats exchanged with the VM:
// module packages, bundles, transactions and stored module records.
package types

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/codec/linearcodec"
	"github.com/ava-labs/avalanchego/utils/units"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

const (
	// CodecVersion is the current default codec version
	CodecVersion = 0

	// MaxEncodedSize bounds any single encoded object
	MaxEncodedSize = 8 * units.MiB
)

// ErrMalformed is returned for bytes that do not decode into the expected object
var ErrMalformed = errors.New("malformed bytecode")

// Codecs do serialization and deserialization
var (
	Codec codec.Manager
)

func init() {
	c := linearcodec.NewDefault()
	Codec = codec.NewManager(MaxEncodedSize)

	errs := wrappers.Errs{}
	errs.Add(
		Codec.RegisterCodec(CodecVersion, c),
	)
	if errs.Errored() {
		panic(errs.Err)
	}
}

func encode(v interface{}) ([]byte, error) {
	return Codec.Marshal(CodecVersion, v)
}

func decode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", ErrMalformed)
	}
	version, err := Codec.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if version != CodecVersion {
		return fmt.Errorf("%w: unsupported codec version %d", ErrMalformed, version)
	}
	return nil
}
