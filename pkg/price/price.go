// Package price implements the packed fixed-point price format used by
// lendings: the high 16 bits hold the whole part and the low 16 bits hold the
// fractional part in ten-thousandths, so "3.5" packs to 0x00031388.
package price

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"renft/pkg/types"
)

const (
	// Precision is the number of fractional digits a packed price carries.
	Precision = 4
	// Limit is the exclusive upper bound of the whole part and of the
	// fractional part.
	Limit = 10_000
)

var limit = decimal.NewFromInt(Limit)

// decimalForm is the accepted textual price: plain digits with an optional
// fraction, no sign and no exponent. maxTextLen bounds the input before it
// reaches the decimal parser.
var decimalForm = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

const (
	maxTextLen = 32
	// exponents outside this range cannot describe a packable price.
	minExponent = -maxTextLen
	maxExponent = 4
)

// Packed is a price encoded as whole<<16 | fractional.
type Packed uint32

// Pack builds a packed price from its parts.
func Pack(whole, frac uint16) (Packed, error) {
	if whole >= Limit {
		return 0, errors.Wrapf(types.ErrInvalidInput, "price whole part %d out of range", whole)
	}
	if frac >= Limit {
		return 0, errors.Wrapf(types.ErrInvalidInput, "price fractional part %d out of range", frac)
	}
	return Packed(uint32(whole)<<16 | uint32(frac)), nil
}

// Parse packs a decimal string such as "0.5" or "9999.9999". More than four
// fractional digits is an input error, the value is never rounded.
func Parse(s string) (Packed, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxTextLen || !decimalForm.MatchString(s) {
		return 0, errors.Wrap(types.ErrInvalidInput, "malformed price")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrap(types.ErrInvalidInput, "malformed price")
	}
	return FromDecimal(d)
}

// FromDecimal packs an exact decimal value.
func FromDecimal(d decimal.Decimal) (Packed, error) {
	if exp := d.Exponent(); exp < minExponent || exp > maxExponent {
		return 0, errors.Wrap(types.ErrInvalidInput, "price exponent out of range")
	}
	if d.IsNegative() {
		return 0, errors.Wrap(types.ErrInvalidInput, "negative price")
	}
	if d.GreaterThanOrEqual(limit) {
		return 0, errors.Wrapf(types.ErrInvalidInput, "price must be below %d", Limit)
	}
	if !d.Equal(d.Truncate(Precision)) {
		return 0, errors.Wrapf(types.ErrInvalidInput, "price has more than %d fractional digits", Precision)
	}
	whole := d.Truncate(0)
	frac := d.Sub(whole).Shift(Precision)
	return Pack(uint16(whole.IntPart()), uint16(frac.IntPart()))
}

// ParseHex decodes the 0x-prefixed 8 hex digit form produced by the
// packPrice client helper.
func ParseHex(s string) (Packed, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) == 0 || len(raw) > 8 {
		return 0, errors.Wrap(types.ErrInvalidInput, "malformed packed price")
	}
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(types.ErrInvalidInput, "malformed packed price %q", raw)
	}
	p := Packed(v)
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return p, nil
}

func (p Packed) Whole() uint16 { return uint16(p >> 16) }

func (p Packed) Frac() uint16 { return uint16(p & 0xffff) }

func (p Packed) IsZero() bool { return p == 0 }

// Validate rejects packed values whose parts fall outside [0, 10000).
func (p Packed) Validate() error {
	if p.Whole() >= Limit || p.Frac() >= Limit {
		return errors.Wrapf(types.ErrInvalidInput, "malformed packed price 0x%08x", uint32(p))
	}
	return nil
}

// Unpack returns whole*scale + frac*scale/10000 in token base units.
func (p Packed) Unpack(scale math.Int) (math.Int, error) {
	if err := p.Validate(); err != nil {
		return math.Int{}, err
	}
	if scale.IsNil() || !scale.IsPositive() {
		return math.Int{}, errors.Wrap(types.ErrInvalidInput, "price scale must be positive")
	}
	whole := scale.MulRaw(int64(p.Whole()))
	frac := scale.MulRaw(int64(p.Frac())).QuoRaw(Limit)
	return whole.Add(frac), nil
}

// Decimal returns the exact decimal value of the packed price.
func (p Packed) Decimal() decimal.Decimal {
	return decimal.New(int64(p.Whole()), 0).Add(decimal.New(int64(p.Frac()), -Precision))
}

func (p Packed) String() string {
	return p.Decimal().String()
}

// Hex renders the packed value as 0x followed by 8 upper-case hex digits.
func (p Packed) Hex() string {
	return fmt.Sprintf("0x%08X", uint32(p))
}

// Scale returns 10^decimals.
func Scale(decimals uint8) math.Int {
	return math.NewIntWithDecimal(1, int(decimals))
}

func (p Packed) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a decimal string or a 0x hex string. Bare JSON
// numbers are rejected so that 3 is never mistaken for a packed 0.0003.
func (p *Packed) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(types.ErrInvalidInput, `price must be a string such as "3.5" or "0x00031388"`)
	}
	var (
		v   Packed
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = ParseHex(s)
	} else {
		v, err = Parse(s)
	}
	if err != nil {
		return err
	}
	*p = v
	return nil
}
