package collectors

import "testing"

func TestStatusOfNilResponse(t *testing.T) {
	if statusOf(nil) != 0 {
		t.Fatal("expected 0 for a nil response")
	}
}
