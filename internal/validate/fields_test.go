package validate

import (
	"errors"
	"math"
	"testing"
)

func TestHexString(t *testing.T) {
	if err := HexString("field", "deadbeef", 4); err != nil {
		t.Errorf("HexString(valid, matching length) = %v, want nil", err)
	}
	if err := HexString("field", "", 0); !errors.Is(err, ErrEmpty) {
		t.Errorf("HexString(empty) = %v, want ErrEmpty", err)
	}
	if err := HexString("field", "not-hex", 0); !errors.Is(err, ErrInvalidHex) {
		t.Errorf("HexString(non-hex) = %v, want ErrInvalidHex", err)
	}
	if err := HexString("field", "deadbeef", 8); !errors.Is(err, ErrInvalidHex) {
		t.Errorf("HexString(wrong length) = %v, want ErrInvalidHex", err)
	}
}

func TestNonNegativeInt(t *testing.T) {
	if err := NonNegativeInt("field", 0); err != nil {
		t.Errorf("NonNegativeInt(0) = %v, want nil", err)
	}
	if err := NonNegativeInt("field", -1); !errors.Is(err, ErrNegative) {
		t.Errorf("NonNegativeInt(-1) = %v, want ErrNegative", err)
	}
}

func TestInRange(t *testing.T) {
	cases := []struct {
		n       int
		wantErr bool
	}{
		{0, false},
		{2, false},
		{-1, true},
		{3, true},
	}
	for _, c := range cases {
		err := InRange("field", c.n, 0, 2)
		if (err != nil) != c.wantErr {
			t.Errorf("InRange(%d, 0, 2) err = %v, wantErr %v", c.n, err, c.wantErr)
		}
	}
}

func TestFiniteCoordinate(t *testing.T) {
	if err := FiniteCoordinate("lat", 45.0, 90); err != nil {
		t.Errorf("FiniteCoordinate(45, 90) = %v, want nil", err)
	}
	if err := FiniteCoordinate("lat", 91.0, 90); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("FiniteCoordinate(91, 90) = %v, want ErrOutOfRange", err)
	}
	if err := FiniteCoordinate("lat", math.NaN(), 90); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("FiniteCoordinate(NaN, 90) = %v, want ErrOutOfRange", err)
	}
	if err := FiniteCoordinate("lat", math.Inf(1), 90); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("FiniteCoordinate(+Inf, 90) = %v, want ErrOutOfRange", err)
	}
}
