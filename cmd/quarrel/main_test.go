package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/23skdu/quarrel-bindings/llama"
)

func TestParseTokens(t *testing.T) {
	got, err := parseTokens([]string{"1,9", "4 5", "12"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]llama.Token{1, 9, 4, 5, 12}, got); diff != "" {
		t.Errorf("parseTokens (-want +got):\n%s", diff)
	}
	if formatTokens(got) != "1 9 4 5 12" {
		t.Errorf("formatTokens = %q", formatTokens(got))
	}
	if _, err := parseTokens([]string{"x"}); err == nil {
		t.Error("parseTokens accepted a non-number")
	}
	if _, err := parseTokens([]string{"99999999999"}); err == nil {
		t.Error("parseTokens accepted an id outside int32")
	}
}
