package transport

import (
	"errors"
	"fmt"
	"testing"
)

func TestDescribeErrorTranslatesKnownCodes(t *testing.T) {
	for _, tc := range []struct {
		msg  string
		want string
	}{
		{"disconnected, status 0x08", "connection supervision timeout"},
		{"connect failed with code 0x3e", "connection failed to be established"},
		{"hci error: 0x05", "authentication failure"},
		{"peer gone, status=0x13", "remote device terminated the connection"},
	} {
		got := DescribeError(errors.New(tc.msg))
		if got != fmt.Sprintf("%s (%s)", tc.msg, tc.want) {
			t.Errorf("DescribeError(%q) = %q, want suffix %q", tc.msg, got, tc.want)
		}
	}
}

func TestDescribeErrorPassesThroughUnknown(t *testing.T) {
	for _, msg := range []string{
		"plain failure",
		"status 0xff", // not a known code
		"0x08 without a keyword",
	} {
		if got := DescribeError(errors.New(msg)); got != msg {
			t.Errorf("DescribeError(%q) = %q, want unchanged", msg, got)
		}
	}
}

func TestDescribeErrorNil(t *testing.T) {
	if got := DescribeError(nil); got != "" {
		t.Errorf("DescribeError(nil) = %q, want empty", got)
	}
}
