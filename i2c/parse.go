package i2c

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mklimuk/accelx"
)

// ParsePlan builds a plan from its text form, one primitive per token:
//
//	S      start
//	A68W   address 0x68 with the write bit (A68R reads)
//	WD0    write 0xD0, ACK required (WD0? tolerates NACK)
//	R      read and ACK
//	RL     read and NACK (final read)
//	P      stop
//
// Plan.String output parses back into an equivalent plan.
func ParsePlan(tokens []string) (*Plan, error) {
	b := NewBuilder()
	for _, tok := range tokens {
		t := strings.ToUpper(strings.TrimSpace(tok))
		switch {
		case t == "":
			continue
		case t == "S":
			b.Start()
		case t == "P":
			b.Stop()
		case t == "R":
			b.ReadByte(false)
		case t == "RL":
			b.ReadByte(true)
		case strings.HasPrefix(t, "A"):
			addr, dir, err := parseAddress(t[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: token %q: %w", accelx.ErrInvalidPlan, tok, err)
			}
			b.Address(addr, dir)
		case strings.HasPrefix(t, "W"):
			v := t[1:]
			ack := true
			if strings.HasSuffix(v, "?") {
				ack = false
				v = strings.TrimSuffix(v, "?")
			}
			n, err := parseByte(v)
			if err != nil {
				return nil, fmt.Errorf("%w: token %q: %w", accelx.ErrInvalidPlan, tok, err)
			}
			b.WriteByte(n, ack)
		default:
			return nil, fmt.Errorf("%w: unknown token %q", accelx.ErrInvalidPlan, tok)
		}
	}
	return b.Build()
}

func parseAddress(s string) (byte, accelx.Direction, error) {
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("expected address and direction")
	}
	var dir accelx.Direction
	switch s[len(s)-1] {
	case 'W':
		dir = accelx.Write
	case 'R':
		dir = accelx.Read
	default:
		return 0, 0, fmt.Errorf("direction must be W or R")
	}
	addr, err := parseByte(s[:len(s)-1])
	if err != nil {
		return 0, 0, err
	}
	return addr, dir, nil
}

func parseByte(s string) (byte, error) {
	s = strings.TrimPrefix(s, "0X")
	if s == "" || len(s) > 2 {
		return 0, fmt.Errorf("expected one or two hex digits")
	}
	n, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, err
	}
	return byte(n), nil
}
