package pulse

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestValidAbsentAndRequired(t *testing.T) {
	t.Parallel()

	var nilFn PulseFunc
	if _, ok, err := valid[PulseFunc](nilFn, false, "onPulse"); err != nil || ok {
		t.Fatalf("optional nil func: ok=%v err=%v", ok, err)
	}
	_, _, err := valid[PulseFunc](nil, true, "onPulse")
	var req *RequiredError
	if !errors.As(err, &req) {
		t.Fatalf("expected RequiredError, got %v", err)
	}
	if req.Label != "onPulse" || req.Type != "pulse.PulseFunc" {
		t.Fatalf("unexpected RequiredError fields: %+v", req)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("RequiredError should match ErrInvalidConfig")
	}
}

func TestValidMismatch(t *testing.T) {
	t.Parallel()

	_, _, err := valid[bool]("yes", false, "autoStart")
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected MismatchError, got %v", err)
	}
	if mm.Label != "autoStart" || mm.Type != "bool" || mm.Got != "string" {
		t.Fatalf("unexpected MismatchError fields: %+v", mm)
	}
}

func TestValidAcceptsUntypedFuncLiteral(t *testing.T) {
	t.Parallel()

	fn := func(p *Pulse, c Context) (any, error) { return c.ID(), nil }
	got, ok, err := valid[PulseFunc](fn, true, "onPulse")
	if err != nil || !ok || got == nil {
		t.Fatalf("func literal rejected: ok=%v err=%v", ok, err)
	}
	res, _ := got(nil, Seq(7))
	if res != uint64(7) {
		t.Fatalf("converted func returned %v", res)
	}
}

func TestValidRange(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		value   any
		want    int64
		wantOK  bool
		wantErr any
	}{
		{name: "absent", value: nil},
		{name: "int", value: 1000, want: 1000, wantOK: true},
		{name: "duration", value: 2 * time.Second, want: 2000, wantOK: true},
		{name: "integral float", value: float64(250), want: 250, wantOK: true},
		{name: "fractional float", value: 12.5, wantErr: &MismatchError{}},
		{name: "string", value: "1000", wantErr: &MismatchError{}},
		{name: "below", value: 9, wantErr: &RangeError{}},
		{name: "above", value: int64(math.MaxInt32) + 1, wantErr: &RangeError{}},
		{name: "huge uint", value: uint64(math.MaxUint64), wantErr: &MismatchError{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := validRange(10, math.MaxInt32, tt.value, false, "interval")
			switch want := tt.wantErr.(type) {
			case nil:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tt.want || ok != tt.wantOK {
					t.Fatalf("got (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
				}
			case *MismatchError:
				if !errors.As(err, &want) {
					t.Fatalf("expected MismatchError, got %v", err)
				}
			case *RangeError:
				if !errors.As(err, &want) {
					t.Fatalf("expected RangeError, got %v", err)
				}
				if want.Label != "interval" {
					t.Fatalf("label = %q", want.Label)
				}
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("error %v does not match ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidRangeRequired(t *testing.T) {
	t.Parallel()
	_, _, err := validRange(10, 100, nil, true, "interval")
	var req *RequiredError
	if !errors.As(err, &req) || req.Type != "number" {
		t.Fatalf("expected RequiredError for number, got %v", err)
	}
}

func TestRangeErrorMessage(t *testing.T) {
	t.Parallel()
	low := (&RangeError{Label: "offset", Min: 0, Max: 99, Value: -1}).Error()
	high := (&RangeError{Label: "offset", Min: 0, Max: 99, Value: 100}).Error()
	if low != "offset must be at least 0 (got -1)" {
		t.Fatalf("low message: %q", low)
	}
	if high != "offset must be at most 99 (got 100)" {
		t.Fatalf("high message: %q", high)
	}
}
