package amount

import (
	"errors"
	"math"
	"strconv"
)

const (
	NanoBLEEP = 1e9
)

type Unit int

const (
	MegaBLP  Unit = 6
	KiloBLP  Unit = 3
	BLP      Unit = 0
	MilliBLP Unit = -3
	MicroBLP Unit = -6
	NanoBLP  Unit = -9
)

func (u Unit) String() string {
	switch u {
	case MegaBLP:
		return "MBLP"
	case KiloBLP:
		return "kBLP"
	case BLP:
		return "BLP"
	case MilliBLP:
		return "mBLP"
	case MicroBLP:
		return "μBLP"
	case NanoBLP:
		return "nBLP"
	default:
		return "1e" + strconv.FormatInt(int64(u), 10) + " BLP"
	}
}

// Amount represents the atomic unit of the BLEEP token.
// Each unit equals 1e-9 of a BLEEP.
type Amount int64

func round(f float64) Amount {
	if f < 0 {
		return Amount(f - 0.5)
	}
	return Amount(f + 0.5)
}

func NewAmount(f float64) (Amount, error) {
	switch {
	case math.IsNaN(f),
		math.IsInf(f, 1),
		math.IsInf(f, -1):
		return 0, errors.New("invalid BLEEP amount")
	}

	return round(f * float64(NanoBLEEP)), nil
}

func FromString(str string) (Amount, error) {
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, err
	}
	return NewAmount(f)
}

func (a Amount) ToUnit(u Unit) float64 {
	return float64(a) / math.Pow10(int(u+9))
}

func (a Amount) ToBLEEP() float64 {
	return a.ToUnit(BLP)
}

func (a Amount) ToNanoBLP() int64 {
	return int64(a)
}

func (a Amount) Format(u Unit) string {
	units := " " + u.String()
	formatted := strconv.FormatFloat(a.ToUnit(u), 'f', -int(u+9), 64)
	return formatted + units
}

// String is the equivalent of calling Format with BLP.
func (a Amount) String() string {
	return a.Format(BLP)
}

func (a Amount) MulF64(f float64) Amount {
	return round(float64(a) * f)
}
