package models

import (
	"errors"
	"testing"
)

func TestParseRecordType(t *testing.T) {
	got, err := ParseRecordType("Small Assets Exchange BNB")
	if err != nil {
		t.Fatal(err)
	}
	if got != RecordSmallAssetsExchange {
		t.Errorf("got %q", got)
	}

	_, err = ParseRecordType("Totally Made Up")
	if !errors.Is(err, ErrUnknownRecordType) {
		t.Fatalf("err = %v, want ErrUnknownRecordType", err)
	}

	// Labels are case sensitive, exactly as exported.
	_, err = ParseRecordType("deposit")
	if !errors.Is(err, ErrUnknownRecordType) {
		t.Fatalf("err = %v, want ErrUnknownRecordType", err)
	}
}
