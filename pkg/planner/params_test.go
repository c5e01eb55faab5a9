package planner

import "testing"

func TestParamListString(t *testing.T) {
	params := &ParamList{}
	params.Add("-s", "P1")
	params.AddQuoted("-e", "10.0.0.1,10.0.0.2")
	params.AddSingleQuoted("-HI", "se cret")
	params.AddBare("-R")

	want := `-s P1 -e "10.0.0.1,10.0.0.2" -HI 'se cret' -R`
	if got := params.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestParamListPrependBare(t *testing.T) {
	params := &ParamList{}
	params.Add("-s", "P1")
	params.PrependBare("/tmp/setup_pagent.py")

	want := "/tmp/setup_pagent.py -s P1"
	if got := params.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestParamListGet(t *testing.T) {
	params := &ParamList{}
	params.Add("-r", "http://example.com/backend")

	got, ok := params.Get("-r")
	if !ok || got != "http://example.com/backend" {
		t.Errorf("unexpected lookup result %q, %v", got, ok)
	}

	if _, ok := params.Get("-x"); ok {
		t.Error("lookup of an absent flag should report false")
	}
}

func TestParamListEmptyQuotedValueKeepsQuotes(t *testing.T) {
	params := &ParamList{}
	params.AddQuoted("-e", "")
	params.AddSingleQuoted("-HI", "")
	params.Add("-a", "10.0.0.3")

	want := `-e "" -HI '' -a 10.0.0.3`
	if got := params.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
