package flow

import (
	"errors"
	"testing"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		data    string
		want    Action
		wantErr bool
	}{
		{data: "menu", want: Do(CodeMenu)},
		{data: "ok", want: Do(CodeConfirm)},
		{data: "stog:42", want: DoWith(CodeSplitToggle, "42")},
		{data: "exact:20.00", want: DoWith(CodePayExact, "20.00")},
		{data: " pok:7 ", want: DoWith(CodePaymentConfirm, "7")},
		{data: "stog", wantErr: true},
		{data: "pok:", wantErr: true},
		{data: "nope", wantErr: true},
		{data: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			got, err := ParseAction(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownAction) {
					t.Fatalf("ParseAction(%q) error = %v, want ErrUnknownAction", tt.data, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAction(%q) error = %v", tt.data, err)
			}
			if got != tt.want {
				t.Errorf("ParseAction(%q) = %+v, want %+v", tt.data, got, tt.want)
			}
		})
	}
}

func TestActionEncodeFitsCallbackData(t *testing.T) {
	for _, kb := range [][][]Button{mainKeyboard(), familyMenu().Keyboard, confirmKeyboard()} {
		for _, row := range kb {
			for _, b := range row {
				data := b.Action.Encode()
				if len(data) > 64 {
					t.Errorf("%q encodes to %d bytes", b.Label, len(data))
				}
				back, err := ParseAction(data)
				if err != nil || back != b.Action {
					t.Errorf("ParseAction(%q) = %+v, %v", data, back, err)
				}
			}
		}
	}
}
