package deployer

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

var (
	// ErrArgumentCount is returned when the number of args differs from the constructor inputs.
	ErrArgumentCount = errors.New("constructor argument count mismatch")
	// ErrInvalidArgument is returned when an arg cannot be converted to its ABI type.
	ErrInvalidArgument = errors.New("invalid constructor argument")
	// ErrUnsupportedType is returned for ABI input types the deployer does not convert.
	ErrUnsupportedType = errors.New("unsupported constructor argument type")
)

// EncodeArgs converts string arguments into the Go values abi.Pack expects
// for the given inputs.
func EncodeArgs(inputs abi.Arguments, args []string) ([]interface{}, error) {
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("%w: constructor takes %d, got %d", ErrArgumentCount, len(inputs), len(args))
	}

	values := make([]interface{}, len(args))
	for i, input := range inputs {
		v, err := encodeArg(input.Type, args[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, input.Type.String(), err)
		}
		values[i] = v
	}
	return values, nil
}

// PackConstructor appends the ABI-encoded constructor arguments to bytecode.
func PackConstructor(contractABI abi.ABI, bytecode []byte, args []string) ([]byte, error) {
	values, err := EncodeArgs(contractABI.Constructor.Inputs, args)
	if err != nil {
		return nil, err
	}

	packed, err := contractABI.Pack("", values...)
	if err != nil {
		return nil, fmt.Errorf("pack constructor: %w", err)
	}

	data := make([]byte, 0, len(bytecode)+len(packed))
	data = append(data, bytecode...)
	data = append(data, packed...)
	return data, nil
}

// encodeArg converts one argument. Surrounding whitespace is ignored for
// every type except string, which is passed through untouched.
func encodeArg(t abi.Type, raw string) (interface{}, error) {
	if t.T == abi.StringTy {
		return raw, nil
	}
	raw = strings.TrimSpace(raw)

	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("%w: %q is not a hex address", ErrInvalidArgument, raw)
		}
		return common.HexToAddress(raw), nil
	case abi.UintTy:
		return encodeInteger(t, raw, false)
	case abi.IntTy:
		return encodeInteger(t, raw, true)
	case abi.BoolTy:
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q is not a bool", ErrInvalidArgument, raw)
	case abi.BytesTy:
		b, err := hexutil.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidArgument, raw, err)
		}
		return b, nil
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidArgument, raw, err)
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidArgument, t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t.String())
	}
}

// encodeInteger parses a decimal string and returns the native Go type for
// sizes up to 64 bits, *big.Int otherwise.
func encodeInteger(t abi.Type, raw string, signed bool) (interface{}, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidArgument, raw)
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidArgument, raw)
	}
	if !signed && d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidArgument, raw)
	}

	n := d.BigInt()
	if !fits(n, t.Size, signed) {
		return nil, fmt.Errorf("%w: %s overflows %s", ErrInvalidArgument, n.String(), t.String())
	}

	if signed {
		switch t.Size {
		case 8:
			return int8(n.Int64()), nil
		case 16:
			return int16(n.Int64()), nil
		case 32:
			return int32(n.Int64()), nil
		case 64:
			return n.Int64(), nil
		}
		return n, nil
	}

	switch t.Size {
	case 8:
		return uint8(n.Uint64()), nil
	case 16:
		return uint16(n.Uint64()), nil
	case 32:
		return uint32(n.Uint64()), nil
	case 64:
		return n.Uint64(), nil
	}
	return n, nil
}

func fits(n *big.Int, bits int, signed bool) bool {
	if signed {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
		min := new(big.Int).Neg(limit)
		return n.Cmp(min) >= 0 && n.Cmp(limit) < 0
	}
	return n.Sign() >= 0 && n.BitLen() <= bits
}
