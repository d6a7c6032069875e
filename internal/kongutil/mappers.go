// Package kongutil carries kong named mappers shared by the CLI.
package kongutil

import (
	"fmt"
	"math"
	"os"
	"reflect"

	"github.com/alecthomas/kong"
	"github.com/docker/go-units"
)

// BinSizeMapper parses values like "8m" or "64MiB" into integer types.
var BinSizeMapper = kong.NamedMapper("binsize", kong.MapperFunc(binSizeMapper))

func binSizeMapper(dctx *kong.DecodeContext, target reflect.Value) error {
	var maxValue uint64

	switch target.Kind() {
	case reflect.Int, reflect.Int64:
		maxValue = math.MaxInt64
	case reflect.Int8:
		maxValue = math.MaxInt8
	case reflect.Int16:
		maxValue = math.MaxInt16
	case reflect.Int32:
		maxValue = math.MaxInt32
	case reflect.Uint, reflect.Uintptr, reflect.Uint64:
		maxValue = math.MaxUint64
	case reflect.Uint8:
		maxValue = math.MaxUint8
	case reflect.Uint16:
		maxValue = math.MaxUint16
	case reflect.Uint32:
		maxValue = math.MaxUint32
	default:
		return fmt.Errorf("\"binsize\" can only be used with integer types")
	}

	var rawSize string
	err := dctx.Scan.PopValueInto("memsize", &rawSize)
	if err != nil {
		return err
	}

	memSize, err := units.RAMInBytes(rawSize)
	if err != nil {
		return err
	}

	if memSize < 0 || uint64(memSize) > maxValue {
		return fmt.Errorf("value out of range")
	}

	target.Set(reflect.ValueOf(memSize).Convert(target.Type()))

	return nil
}

// OutputFileMapper opens the named path for writing, refusing to clobber
// an existing file. "-" maps to stdout.
var OutputFileMapper = kong.NamedMapper("outputfile", kong.MapperFunc(outputFileMapper))

func outputFileMapper(dctx *kong.DecodeContext, target reflect.Value) error {
	if _, ok := target.Interface().(*os.File); !ok {
		return fmt.Errorf("\"outputfile\" can only be used with *os.File")
	}

	var path string
	err := dctx.Scan.PopValueInto("file", &path)
	if err != nil {
		return err
	}

	if path == "-" {
		target.Set(reflect.ValueOf(os.Stdout))
		return nil
	}

	path = kong.ExpandPath(path)

	_, err = os.Stat(path)
	if err == nil {
		return fmt.Errorf("target file already exists")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, os.ModePerm)
	if err != nil {
		return err
	}

	target.Set(reflect.ValueOf(f))

	return nil
}
