package interactive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/q35smm/smm-go/pkg/smmcontrol"
)

// ParseByte parses a hex byte with optional 0x prefix. An empty string is
// an absent byte.
func ParseByte(s string) (smmcontrol.OptionalByte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return smmcontrol.OptionalByte{}, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return smmcontrol.OptionalByte{}, fmt.Errorf("invalid byte %q: must be hex 00-ff", s)
	}
	return smmcontrol.Byte(uint8(v)), nil
}

// ParseTrigger parses a CMD[:DATA] argument.
func ParseTrigger(arg string) (command, data smmcontrol.OptionalByte, err error) {
	cmdStr, dataStr, _ := strings.Cut(arg, ":")
	if command, err = ParseByte(cmdStr); err != nil {
		return command, data, fmt.Errorf("command: %w", err)
	}
	if data, err = ParseByte(dataStr); err != nil {
		return command, data, fmt.Errorf("data: %w", err)
	}
	return command, data, nil
}
