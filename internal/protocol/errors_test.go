package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrBadRequest,
		ErrNameTaken,
		ErrCooldown,
		ErrDead,
		ErrUnknownOrder,
		ErrDecisionAuth,
		ErrDecisionRateLimit,
		ErrDecisionTimeout,
		ErrDecisionBadRequest,
		ErrDecisionUnavailable,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestDecodeBase(t *testing.T) {
	b, err := DecodeBase([]byte(`{"type":"command","content":"look around"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Type != TypeCommand {
		t.Fatalf("unexpected type: %q", b.Type)
	}
	if _, err := DecodeBase([]byte(`{`)); err == nil {
		t.Fatalf("expected error for truncated json")
	}
}
