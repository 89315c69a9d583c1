package reconcile

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// normalizeValues converts decoded event arguments into JSON-stable scalars: integers become
// decimal strings, addresses and byte values become hex.
func normalizeValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case *big.Int:
		if v == nil {
			return nil
		}
		return v.String()
	case big.Int:
		return v.String()
	case common.Address:
		return v.Hex()
	case *common.Address:
		if v == nil {
			return nil
		}
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case [32]byte:
		return hexutil.Encode(v[:])
	case []byte:
		return hexutil.Encode(v)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	case string, bool:
		return v
	case []common.Address:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i].Hex()
		}
		return out
	case []*big.Int:
		out := make([]any, len(v))
		for i := range v {
			out[i] = normalizeValue(v[i])
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = normalizeValue(v[i])
		}
		return out
	default:
		return fmt.Sprint(v)
	}
}

func bigValue(values map[string]any, key string) (*big.Int, error) {
	switch v := values[key].(type) {
	case *big.Int:
		if v != nil {
			return v, nil
		}
	case big.Int:
		return &v, nil
	case string:
		if n, ok := parseBig(v); ok {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingValue, key)
}

func addressValue(values map[string]any, key string) (common.Address, error) {
	switch v := values[key].(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		if v != nil {
			return *v, nil
		}
	case string:
		if common.IsHexAddress(v) {
			return common.HexToAddress(v), nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: %s", ErrMissingValue, key)
}

// domainID renders values["domainId"] as a decimal string. Hex-encoded strings are accepted.
func domainID(values map[string]any) *string {
	value, ok := values["domainId"]
	if !ok || value == nil {
		return nil
	}
	var id *big.Int
	switch v := value.(type) {
	case *big.Int:
		id = v
	case big.Int:
		id = &v
	case string:
		id, _ = parseBig(v)
	}
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func userAddress(values map[string]any) *common.Address {
	address, err := addressValue(values, "user")
	if err != nil {
		return nil
	}
	return &address
}

func parseBig(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 2 && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}
