package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrNameNotFound = errors.New("colony name not found")

// NameResolver maps a colony name to its address. Unknown names return ErrNameNotFound.
type NameResolver interface {
	Resolve(ctx context.Context, name string) (common.Address, error)
}

// Resolution is the outcome of a name lookup. Found is false for names nobody registered.
type Resolution struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
	Found   bool           `json:"found"`
}

// StaticNames resolves from a fixed, case-insensitive table.
type StaticNames map[string]common.Address

func ParseStaticNames(entries map[string]string) (StaticNames, error) {
	names := make(StaticNames, len(entries))
	for name, address := range entries {
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("colony %q: invalid address %q", name, address)
		}
		names[strings.ToLower(name)] = common.HexToAddress(address)
	}
	return names, nil
}

func (n StaticNames) Resolve(_ context.Context, name string) (common.Address, error) {
	address, ok := n[strings.ToLower(name)]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNameNotFound, name)
	}
	return address, nil
}
