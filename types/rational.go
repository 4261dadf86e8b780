package types

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Rational is a frame rate as the hardware carries it. A zero numerator
// with a non-zero denominator means a variable frame rate.
type Rational struct {
	Num uint32
	Den uint32
}

func (r Rational) IsZero() bool {
	return r.Num == 0
}

func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

func fromBigRat(rat *big.Rat) (Rational, error) {
	num, den := rat.Num(), rat.Denom()
	if !num.IsUint64() || num.Uint64() > math.MaxUint32 ||
		!den.IsUint64() || den.Uint64() > math.MaxUint32 {
		return Rational{}, fmt.Errorf("%s does not fit into 32 bits", rat)
	}
	return Rational{Num: uint32(num.Uint64()), Den: uint32(den.Uint64())}, nil
}

// RationalFromApproxFloat64 turns e.g. 29.97 into 30000/1001: the NTSC
// N*1000/1001 form wins when it is within 0.01 of fps.
func RationalFromApproxFloat64(fps float64) (Rational, error) {
	if fps < 0 {
		return Rational{}, fmt.Errorf("negative frame rate %f", fps)
	}
	if fps == math.Trunc(fps) && fps <= math.MaxUint32 {
		return Rational{Num: uint32(fps), Den: 1}, nil
	}
	ntsc := big.NewRat(int64(math.Ceil(fps))*1000, 1001)
	if v, _ := ntsc.Float64(); math.Abs(fps-v) < 1e-2 {
		return fromBigRat(ntsc)
	}
	return fromBigRat(big.NewRat(int64(fps*1e6), 1e6))
}

// RationalFromString accepts "30/1", a decimal "29.97" (taken exactly) or
// an approximation "~29.97" (see RationalFromApproxFloat64).
func RationalFromString(s string) (Rational, error) {
	var (
		r   Rational
		err error
	)
	switch {
	case s == "":
		err = fmt.Errorf("empty string")
	case strings.Contains(s, "/"):
		_, err = fmt.Sscanf(s, "%d/%d", &r.Num, &r.Den)
	case strings.HasPrefix(s, "~"):
		var fps float64
		if fps, err = strconv.ParseFloat(s[1:], 64); err == nil {
			r, err = RationalFromApproxFloat64(fps)
		}
	default:
		rat, ok := new(big.Rat).SetString(s)
		switch {
		case !ok:
			err = fmt.Errorf("not a number")
		case rat.Sign() < 0:
			err = fmt.Errorf("negative value")
		default:
			r, err = fromBigRat(rat)
		}
	}
	if err == nil && r.Den == 0 {
		err = fmt.Errorf("zero denominator")
	}
	if err != nil {
		return Rational{}, fmt.Errorf("unable to parse a rational from %q: %w", s, err)
	}
	return r, nil
}

func (r Rational) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rational) UnmarshalText(b []byte) error {
	v, err := RationalFromString(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
